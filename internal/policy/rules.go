package policy

import "github.com/eliteGoblin/focusd/kidguard/internal/domain"

// SystemUIPackage is the Android system UI (status bar, recents, volume panel).
const SystemUIPackage = "com.android.systemui"

// settingsPackages are vendor settings and security-center apps.
// Matched as case-insensitive prefixes.
var settingsPackages = []string{
	"com.android.settings",
	"com.samsung.android.settings",
	"com.miui.securitycenter",
	"com.oneplus.settings",
	"com.huawei.systemmanager",
	"com.coloros.settings",
	"com.oppo.settings",
	"com.vivo.settings",
	"com.realme.settings",
	"com.xiaomi.settings",
}

var vendorNamespaces = []string{
	"com.android.",
	"android.",
	"com.google.android.",
}

// App lockers draw their own lock screen over the target app and must not be torn down mid-overlay.
var appLockPatterns = []string{
	"com.applock",
	"applock",
	"lock",
	"protector",
}

var gameEngineOverlays = []string{
	"com.unity3d",
	"com.epicgames",
	"com.unrealengine",
	"unity",
	"unreal",
}

var overlayKeywords = []string{
	"overlay",
	"floating",
	"popup",
}

// isSettings is shared by the settings row and IsSettingsApp.
var isSettings = AnyOf(PrefixFold(settingsPackages...), ContainsFold("settings"))

// IsSettingsApp reports whether pkg is a settings or security-center app.
// Settings apps are denied unconditionally and never get a grace period.
func IsSettingsApp(pkg string) bool {
	return isSettings(pkg)
}

// DefaultRules returns the classification table for a launcher whose own package is selfPackage.
// Order matters: the settings row must stay first so that nothing below can allow it.
func DefaultRules(selfPackage string) []Rule {
	return []Rule{
		{Name: "settings", Match: isSettings, Verdict: domain.VerdictDeny},
		{
			Name:    "system-ui-or-launcher",
			Match:   AnyOf(Exact(SystemUIPackage, selfPackage), ContainsFold("launcher")),
			Verdict: domain.VerdictAllow,
		},
		{Name: "vendor-namespace", Match: PrefixFold(vendorNamespaces...), Verdict: domain.VerdictAllow},
		{Name: "app-lock", Match: ContainsFold(appLockPatterns...), Verdict: domain.VerdictAllow},
		{
			Name:    "overlay",
			Match:   AnyOf(ContainsFold(gameEngineOverlays...), ContainsFold(overlayKeywords...)),
			Verdict: domain.VerdictAllow,
		},
	}
}
