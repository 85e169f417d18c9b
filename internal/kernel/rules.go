package kernel

import (
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"
)

// rulePriority orders our source rules after the kernel's local-table rule
// (priority 0) and before the main-table one (32766).
const rulePriority = 1000

// ChangeRule installs (enable) or removes (disable) the policy rule
// `from addr/32 lookup table priority 1000`. Enabling an existing rule
// returns ErrExists; disabling a missing one returns ErrNotFound. Both are
// benign for callers doing reconciliation.
func (r *Router) ChangeRule(addr netip.Addr, table uint32, enable bool) error {
	rule := netlink.NewRule()
	rule.Family = netlink.FAMILY_V4
	rule.Priority = rulePriority
	rule.Table = int(table)
	rule.Src = hostIPNet(addr)

	if enable {
		if err := netlink.RuleAdd(rule); err != nil {
			return fmt.Errorf("add source rule for %s: %w", addr, classify(err))
		}
		return nil
	}
	if err := netlink.RuleDel(rule); err != nil {
		return fmt.Errorf("delete source rule for %s: %w", addr, classify(err))
	}
	return nil
}
