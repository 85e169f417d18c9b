package service

import "github.com/google/uuid"

// RoleAdmin is the well-known admin role id. Membership grants access to
// every config and to role management.
var RoleAdmin = uuid.MustParse("22129c89-7069-49ce-9f4a-f85004a7f230")
