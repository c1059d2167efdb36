package infra

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
)

// newTestStore creates an encrypted store in a temp directory for testing.
func newTestStore(t *testing.T) (*Store, string, []byte) {
	t.Helper()
	dataDir := t.TempDir()
	key, err := GenerateKey()
	require.NoError(t, err)

	s, err := newStore(dataDir, key, bcrypt.MinCost, nil)
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s, dataDir, key
}

func TestStore_Defaults(t *testing.T) {
	s, _, _ := newTestStore(t)

	assert.False(t, s.KidMode())
	assert.Empty(t, s.Whitelist())

	ok, err := s.VerifyPin(DefaultParentPin)
	require.NoError(t, err)
	assert.True(t, ok)

	settings, err := s.LauncherSettings()
	require.NoError(t, err)
	assert.Equal(t, DefaultIconSize, settings.IconSize)
	assert.Empty(t, settings.DockApps)
}

func TestStore_KidMode(t *testing.T) {
	s, _, _ := newTestStore(t)

	require.NoError(t, s.SetKidMode(true))
	assert.True(t, s.KidMode())

	require.NoError(t, s.SetKidMode(false))
	assert.False(t, s.KidMode())
}

func TestStore_Whitelist(t *testing.T) {
	s, _, _ := newTestStore(t)

	require.NoError(t, s.AddToWhitelist("com.allowed.app"))
	require.NoError(t, s.AddToWhitelist("com.other.app"))
	require.NoError(t, s.AddToWhitelist("com.allowed.app"), "adding twice is a no-op")

	assert.Equal(t, map[string]struct{}{"com.allowed.app": {}, "com.other.app": {}}, s.Whitelist())

	require.NoError(t, s.RemoveFromWhitelist("com.other.app"))
	require.NoError(t, s.RemoveFromWhitelist("com.never.added"))
	assert.Equal(t, map[string]struct{}{"com.allowed.app": {}}, s.Whitelist())

	assert.Error(t, s.AddToWhitelist(""))
}

func TestStore_Pin(t *testing.T) {
	s, _, _ := newTestStore(t)

	require.NoError(t, s.SetPin("9876"))

	ok, err := s.VerifyPin("9876")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.VerifyPin(DefaultParentPin)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, s.SetPin("12"))
}

func TestStore_LauncherSettings(t *testing.T) {
	s, _, _ := newTestStore(t)

	want := domain.LauncherSettings{IconSize: 72, DockApps: []string{"com.b", "com.a", "com.c"}}
	require.NoError(t, s.SaveLauncherSettings(want))

	got, err := s.LauncherSettings()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, s.SaveLauncherSettings(domain.LauncherSettings{IconSize: 48, DockApps: []string{"com.a"}}))
	got, err = s.LauncherSettings()
	require.NoError(t, err)
	assert.Equal(t, []string{"com.a"}, got.DockApps)

	assert.Error(t, s.SaveLauncherSettings(domain.LauncherSettings{IconSize: 0}))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	s, dataDir, key := newTestStore(t)
	require.NoError(t, s.SetKidMode(true))
	require.NoError(t, s.AddToWhitelist("com.allowed.app"))
	require.NoError(t, s.SetPin("5555"))
	require.NoError(t, s.Close())

	reopened, err := newStore(dataDir, key, bcrypt.MinCost, nil)
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, reopened.KidMode())
	assert.Contains(t, reopened.Whitelist(), "com.allowed.app")
	ok, err := reopened.VerifyPin("5555")
	require.NoError(t, err)
	assert.True(t, ok, "reopen must not reseed the PIN")
}

func TestStore_ReopenRestoresMissingDefaults(t *testing.T) {
	s, dataDir, key := newTestStore(t)
	require.NoError(t, s.SetPin("5555"))
	_, err := s.db.Exec(`DELETE FROM preferences WHERE key IN (?, ?)`, prefKidMode, prefIconSize)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := newStore(dataDir, key, bcrypt.MinCost, nil)
	require.NoError(t, err)
	defer reopened.Close()

	_, ok, err := reopened.getPref(prefKidMode)
	require.NoError(t, err)
	assert.True(t, ok)
	settings, err := reopened.LauncherSettings()
	require.NoError(t, err)
	assert.Equal(t, DefaultIconSize, settings.IconSize)

	ok, err = reopened.VerifyPin("5555")
	require.NoError(t, err)
	assert.True(t, ok, "existing PIN survives reseeding")
}

// fakeRows yields pkgs, then reports err from Err.
type fakeRows struct {
	pkgs []string
	err  error
	pos  int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.pkgs)
}

func (r *fakeRows) Scan(dest ...any) error {
	*dest[0].(*string) = r.pkgs[r.pos-1]
	return nil
}

func (r *fakeRows) Err() error { return r.err }

func TestCollectPackages(t *testing.T) {
	tests := []struct {
		name    string
		rows    *fakeRows
		want    map[string]struct{}
		wantErr bool
	}{
		{"empty", &fakeRows{}, map[string]struct{}{}, false},
		{"all rows", &fakeRows{pkgs: []string{"com.a", "com.b"}}, map[string]struct{}{"com.a": {}, "com.b": {}}, false},
		{"iteration error after partial read", &fakeRows{pkgs: []string{"com.a"}, err: errors.New("disk I/O error")}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := collectPackages(tt.rows)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_WrongKeyFails(t *testing.T) {
	s, dataDir, _ := newTestStore(t)
	require.NoError(t, s.Close())

	wrong, err := GenerateKey()
	require.NoError(t, err)

	_, err = newStore(dataDir, wrong, bcrypt.MinCost, nil)
	assert.Error(t, err)
}

func TestStore_Registry(t *testing.T) {
	s, _, _ := newTestStore(t)

	entry, err := s.GetAll()
	require.NoError(t, err)
	assert.Nil(t, entry)

	assert.Error(t, s.UpdateHeartbeat(domain.RoleEnforcer), "heartbeat before register")

	before := time.Now().Unix()
	require.NoError(t, s.Register(domain.Daemon{PID: 4321, Role: domain.RoleEnforcer, AppVersion: "0.1.0"}))
	require.NoError(t, s.UpdateHeartbeat(domain.RoleEnforcer))

	entry, err = s.GetAll()
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 4321, entry.EnforcerPID)
	assert.Equal(t, "0.1.0", entry.AppVersion)
	assert.GreaterOrEqual(t, entry.LastHeartbeat, before)
	if os.Geteuid() == 0 {
		assert.Equal(t, "system", entry.Mode)
	} else {
		assert.Equal(t, "user", entry.Mode)
	}

	require.NoError(t, s.Clear())
	entry, err = s.GetAll()
	require.NoError(t, err)
	assert.Nil(t, entry)
}
