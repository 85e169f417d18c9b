package service_test

import (
	"context"
	"errors"
	"net/netip"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgkeeper/internal/ippool"
	"wgkeeper/internal/kernel"
	"wgkeeper/internal/service"
	"wgkeeper/internal/store"
)

// fakeWG records every update and serves a static device dump.
type fakeWG struct {
	mu      sync.Mutex
	dev     wgtypes.Device
	updates []kernel.Update
}

func (f *fakeWG) Device(context.Context) (*wgtypes.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev := f.dev
	return &dev, nil
}

func (f *fakeWG) Apply(_ context.Context, u kernel.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	return nil
}

func (f *fakeWG) last(t *testing.T) kernel.Update {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		t.Fatal("no updates applied")
	}
	return f.updates[len(f.updates)-1]
}

// fakeRouter mimics kernel idempotence: duplicate installs answer
// ErrExists, removals of absent rules answer ErrNotFound.
type fakeRouter struct {
	routes map[netip.Addr]bool
	rules  map[netip.Addr]bool
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{routes: map[netip.Addr]bool{}, rules: map[netip.Addr]bool{}}
}

func (f *fakeRouter) AddHostRoute(addr netip.Addr) error {
	if f.routes[addr] {
		return kernel.ErrExists
	}
	f.routes[addr] = true
	return nil
}

func (f *fakeRouter) ChangeRule(addr netip.Addr, _ uint32, enable bool) error {
	if enable {
		if f.rules[addr] {
			return kernel.ErrExists
		}
		f.rules[addr] = true
		return nil
	}
	if !f.rules[addr] {
		return kernel.ErrNotFound
	}
	delete(f.rules, addr)
	return nil
}

type fixture struct {
	svc    *service.Service
	store  *store.Store
	wg     *fakeWG
	router *fakeRouter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "wgkeeper.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	pool, err := ippool.New(netip.MustParsePrefix("10.2.0.0/24"))
	if err != nil {
		t.Fatal(err)
	}

	wg := &fakeWG{}
	router := newFakeRouter()
	svc, err := service.New(service.Params{
		Store:     st,
		WG:        wg,
		Router:    router,
		Pool:      pool,
		DVPNTable: 123,
		Endpoint:  "vpn.example.org:51820",
		PublicKey: "5BK8B9f9S1VRb1lkBSOmcuCyLCwZZJGXx2h1hUrUP0E=",
		Secret:    []byte("test secret"),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{svc: svc, store: st, wg: wg, router: router}
}

func (f *fixture) user(t *testing.T, chatID int64) service.User {
	t.Helper()
	ctx := context.Background()
	if err := f.svc.RegisterUser(ctx, chatID); err != nil {
		t.Fatal(err)
	}
	u, err := f.svc.UserOf(ctx, chatID)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func (f *fixture) admin(t *testing.T, chatID int64) service.User {
	t.Helper()
	if err := f.svc.Bootstrap(context.Background(), chatID); err != nil {
		t.Fatal(err)
	}
	return f.user(t, chatID)
}

func TestNewConfigGeneratesKeyPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, 1)

	id, err := f.svc.NewConfig(ctx, user, "laptop", "")
	if err != nil {
		t.Fatal(err)
	}

	full, err := f.svc.Config(ctx, user, id)
	if err != nil {
		t.Fatal(err)
	}
	if want := netip.MustParseAddr("10.2.0.1"); full.Config.IP != want {
		t.Fatalf("first allocation = %s, want %s", full.Config.IP, want)
	}
	if full.Config.PrivateKey == nil {
		t.Fatal("generated config must store the private key")
	}
	if full.Config.PrivateKey.PublicKey() != full.Config.PublicKey {
		t.Fatal("stored key halves do not match")
	}

	upd := f.wg.last(t)
	if upd.ReplacePeers || len(upd.Peers) != 1 {
		t.Fatalf("peer update = %+v, want one incremental peer", upd)
	}
	if got := upd.Peers[0].AllowedIP; got != netip.PrefixFrom(full.Config.IP, 32) {
		t.Fatalf("allowed ip = %s, want %s/32", got, full.Config.IP)
	}
	if !f.router.routes[full.Config.IP] {
		t.Fatal("host route not installed")
	}

	rendered := f.svc.RenderConfig(full.Config)
	if !strings.Contains(rendered, "Address = 10.2.0.1") ||
		!strings.Contains(rendered, full.Config.PrivateKey.String()) {
		t.Fatalf("rendered config incomplete:\n%s", rendered)
	}
}

func TestNewConfigWithClientKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, 1)

	priv, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	pub := priv.PublicKey()

	id, err := f.svc.NewConfig(ctx, user, "phone", pub.String())
	if err != nil {
		t.Fatal(err)
	}
	full, err := f.svc.Config(ctx, user, id)
	if err != nil {
		t.Fatal(err)
	}
	if full.Config.PrivateKey != nil {
		t.Fatal("server must not hold a private key it never saw")
	}
	if !strings.Contains(f.svc.RenderConfig(full.Config), "<INSERT PRIVATE KEY>") {
		t.Fatal("rendered config must carry the private key placeholder")
	}

	// The same public key cannot back a second config.
	if _, err := f.svc.NewConfig(ctx, user, "dup", pub.String()); !errors.Is(err, service.ErrClientAlreadyExists) {
		t.Fatalf("duplicate key = %v, want ErrClientAlreadyExists", err)
	}
}

func TestNewConfigInvalidKey(t *testing.T) {
	f := newFixture(t)
	user := f.user(t, 1)

	for _, key := range []string{"not base64", "aGVsbG8="} {
		if _, err := f.svc.NewConfig(context.Background(), user, "x", key); !errors.Is(err, service.ErrInvalidKey) {
			t.Fatalf("NewConfig(%q) = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestPoolExhaustion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, 1)

	// Pool is /24: 254 host addresses.
	for i := 0; i < 254; i++ {
		if _, err := f.svc.NewConfig(ctx, user, "", ""); err != nil {
			t.Fatalf("allocation %d: %v", i, err)
		}
	}
	if _, err := f.svc.NewConfig(ctx, user, "", ""); !errors.Is(err, service.ErrIPPoolExhausted) {
		t.Fatalf("NewConfig past range end = %v, want ErrIPPoolExhausted", err)
	}
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, 1)
	other := f.user(t, 2)
	admin := f.admin(t, 3)

	id, err := f.svc.NewConfig(ctx, owner, "laptop", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Config(ctx, other, id); !errors.Is(err, service.ErrAccessDenied) {
		t.Fatalf("read by stranger = %v, want ErrAccessDenied", err)
	}
	if err := f.svc.RenameConfig(ctx, other, id, "mine now"); !errors.Is(err, service.ErrAccessDenied) {
		t.Fatalf("rename by stranger = %v, want ErrAccessDenied", err)
	}
	if err := f.svc.RemoveConfig(ctx, other, id); !errors.Is(err, service.ErrAccessDenied) {
		t.Fatalf("remove by stranger = %v, want ErrAccessDenied", err)
	}

	if _, err := f.svc.Config(ctx, admin, id); err != nil {
		t.Fatalf("read by admin: %v", err)
	}
	if err := f.svc.RenameConfig(ctx, admin, id, "renamed"); err != nil {
		t.Fatalf("rename by admin: %v", err)
	}
}

func TestRemoveConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, 1)

	id, err := f.svc.NewConfig(ctx, user, "laptop", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.RemoveConfig(ctx, user, id); err != nil {
		t.Fatal(err)
	}

	upd := f.wg.last(t)
	if len(upd.Peers) != 1 || !upd.Peers[0].Remove {
		t.Fatalf("last update = %+v, want a single peer removal", upd)
	}

	if _, err := f.svc.Config(ctx, user, id); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("Config after remove = %v, want ErrNotFound", err)
	}
	configs, err := f.svc.Configs(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(configs) != 0 {
		t.Fatalf("Configs after remove = %d entries, want 0", len(configs))
	}
}

func TestRemovedAddressIsNotReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, 1)

	first, err := f.svc.NewConfig(ctx, user, "a", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.RemoveConfig(ctx, user, first); err != nil {
		t.Fatal(err)
	}

	id, err := f.svc.NewConfig(ctx, user, "b", "")
	if err != nil {
		t.Fatal(err)
	}
	full, err := f.svc.Config(ctx, user, id)
	if err != nil {
		t.Fatal(err)
	}
	if want := netip.MustParseAddr("10.2.0.2"); full.Config.IP != want {
		t.Fatalf("allocation after removal = %s, want %s", full.Config.IP, want)
	}
}

func TestInitConvergesKernelToStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.user(t, 1)

	live, err := f.svc.NewConfig(ctx, user, "live", "")
	if err != nil {
		t.Fatal(err)
	}
	gone, err := f.svc.NewConfig(ctx, user, "gone", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.RemoveConfig(ctx, user, gone); err != nil {
		t.Fatal(err)
	}
	liveCfg, err := f.svc.Config(ctx, user, live)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.ChangeSettings(ctx, liveCfg.Config.IP, true); err != nil {
		t.Fatal(err)
	}

	// Fresh kernel fakes and a fresh pool model a restart.
	pool, err := ippool.New(netip.MustParsePrefix("10.2.0.0/24"))
	if err != nil {
		t.Fatal(err)
	}
	wg := &fakeWG{}
	router := newFakeRouter()
	svc, err := service.New(service.Params{
		Store: f.store, WG: wg, Router: router, Pool: pool,
		DVPNTable: 123, Endpoint: "vpn.example.org:51820",
		PublicKey: "5BK8B9f9S1VRb1lkBSOmcuCyLCwZZJGXx2h1hUrUP0E=",
		Secret:    []byte("test secret"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Init(ctx); err != nil {
		t.Fatal(err)
	}

	upd := wg.last(t)
	if !upd.ReplacePeers {
		t.Fatal("Init must atomically replace the peer set")
	}
	if len(upd.Peers) != 1 || upd.Peers[0].PublicKey != liveCfg.Config.PublicKey {
		t.Fatalf("replaced peer set = %+v, want only the live config", upd.Peers)
	}
	if !router.routes[liveCfg.Config.IP] {
		t.Fatal("Init must reinstall the host route")
	}
	if !router.rules[liveCfg.Config.IP] {
		t.Fatal("Init must re-apply the persisted double-VPN rule")
	}

	// Two configs were ever created, so the next allocation is the third
	// host address even though one config is gone.
	next, err := svc.NewConfig(ctx, f.user(t, 1), "new", "")
	if err != nil {
		t.Fatal(err)
	}
	full, err := svc.Config(ctx, f.user(t, 1), next)
	if err != nil {
		t.Fatal(err)
	}
	if want := netip.MustParseAddr("10.2.0.3"); full.Config.IP != want {
		t.Fatalf("allocation after restart = %s, want %s", full.Config.IP, want)
	}
}

func TestChangeSettingsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ip := netip.MustParseAddr("10.2.0.1")

	// Disabling an already-disabled path is a no-op.
	if err := f.svc.ChangeSettings(ctx, ip, false); err != nil {
		t.Fatalf("disable when absent = %v", err)
	}
	if err := f.svc.ChangeSettings(ctx, ip, true); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.ChangeSettings(ctx, ip, true); err != nil {
		t.Fatalf("enable when present = %v", err)
	}

	enabled, err := f.svc.DoubleVPN(ctx, ip)
	if err != nil {
		t.Fatal(err)
	}
	if !enabled {
		t.Fatal("flag must persist as enabled")
	}

	if err := f.svc.ChangeSettings(ctx, ip, false); err != nil {
		t.Fatal(err)
	}
	if enabled, _ = f.svc.DoubleVPN(ctx, ip); enabled {
		t.Fatal("flag must persist as disabled")
	}
}

func TestPairingFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, 1)

	id, err := f.svc.NewConfig(ctx, owner, "laptop", "")
	if err != nil {
		t.Fatal(err)
	}
	full, err := f.svc.Config(ctx, owner, id)
	if err != nil {
		t.Fatal(err)
	}
	ip := full.Config.IP

	code, err := f.svc.PairCode(ip)
	if err != nil {
		t.Fatal(err)
	}

	const newChat = int64(55)
	if err := f.svc.CreateAssociation(ctx, code, newChat); err != nil {
		t.Fatal(err)
	}
	ok, err := f.svc.AssociationExists(ctx, ip, newChat)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("association must exist after pairing")
	}

	if err := f.svc.CreateAssociation(ctx, "bogus", newChat); err == nil {
		t.Fatal("bogus pair code must be rejected")
	}
}

func TestUserByIP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, 1)

	id, err := f.svc.NewConfig(ctx, owner, "laptop", "")
	if err != nil {
		t.Fatal(err)
	}
	full, err := f.svc.Config(ctx, owner, id)
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.UserByIP(ctx, full.Config.IP)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != owner.ID {
		t.Fatalf("UserByIP = %s, want %s", got.ID, owner.ID)
	}

	if _, err := f.svc.UserByIP(ctx, netip.MustParseAddr("10.2.0.99")); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("UserByIP for unknown address = %v, want ErrNotFound", err)
	}
}

func TestAdminLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.admin(t, 1)
	target := f.user(t, 2)

	if target.IsAdmin() {
		t.Fatal("fresh user must not be admin")
	}
	if err := f.svc.AddAdmin(ctx, target, target.ID); !errors.Is(err, service.ErrAccessDenied) {
		t.Fatalf("self-promotion = %v, want ErrAccessDenied", err)
	}

	if err := f.svc.AddAdmin(ctx, admin, target.ID); err != nil {
		t.Fatal(err)
	}
	target, err := f.svc.UserOf(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !target.IsAdmin() {
		t.Fatal("target must be admin after grant")
	}

	if err := f.svc.RemoveAdmin(ctx, admin, target.ID); err != nil {
		t.Fatal(err)
	}
	target, err = f.svc.UserOf(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if target.IsAdmin() {
		t.Fatal("target must lose admin after revoke")
	}
}

func TestRequestWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.admin(t, 1)
	user := f.user(t, 2)

	id, err := f.svc.RequestConfig(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Requests(ctx, user); !errors.Is(err, service.ErrAccessDenied) {
		t.Fatalf("Requests by non-admin = %v, want ErrAccessDenied", err)
	}
	all, err := f.svc.Requests(ctx, admin)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Status != store.RequestPending {
		t.Fatalf("Requests = %+v, want one pending", all)
	}

	if err := f.svc.ApproveRequest(ctx, user, id); !errors.Is(err, service.ErrAccessDenied) {
		t.Fatalf("approve by non-admin = %v, want ErrAccessDenied", err)
	}
	if err := f.svc.ApproveRequest(ctx, admin, id); err != nil {
		t.Fatal(err)
	}

	mine, err := f.svc.RequestsByChat(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].Status != store.RequestApproved {
		t.Fatalf("RequestsByChat = %+v, want one approved", mine)
	}

	if err := f.svc.DeclineRequest(ctx, admin, uuid.New()); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("decline unknown request = %v, want ErrNotFound", err)
	}
}
