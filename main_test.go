package main

import (
	"reflect"
	"regexp"
	"strings"
	"testing"

	"videomorph/internal/bootstrap"
)

var boundCall = regexp.MustCompile(`api\(\)\.(\w+)\(`)

func readAsset(t *testing.T, name string) string {
	t.Helper()
	data, err := appAssets.ReadFile(name)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

// TestFrontendCallsBoundMethods checks every UI call targets an App method
// and the settings and profile actions are reachable.
func TestFrontendCallsBoundMethods(t *testing.T) {
	script := readAsset(t, "frontend/app.js")
	appType := reflect.TypeOf(&bootstrap.App{})

	called := make(map[string]bool)
	for _, m := range boundCall.FindAllStringSubmatch(script, -1) {
		called[m[1]] = true
		if _, ok := appType.MethodByName(m[1]); !ok {
			t.Fatalf("app.js calls %s, which App does not bind", m[1])
		}
	}

	required := []string{
		"GetSettings", "SaveSettings", "PickOutputDirectory",
		"AddProfile", "PickExportDirectory", "ExportProfiles",
		"PickProfilesFile", "ImportProfiles", "RestoreDefaultProfiles",
	}
	for _, name := range required {
		if !called[name] {
			t.Fatalf("app.js never calls %s", name)
		}
	}
}

// TestFrontendRendersTextOnly checks file names and encoder output are never
// parsed as markup.
func TestFrontendRendersTextOnly(t *testing.T) {
	script := readAsset(t, "frontend/app.js")
	for _, sink := range []string{"innerHTML", "outerHTML", "insertAdjacentHTML", "document.write"} {
		if strings.Contains(script, sink) {
			t.Fatalf("app.js uses %s", sink)
		}
	}
}

// TestFrontendExposesSettings checks each configuration option has a control.
func TestFrontendExposesSettings(t *testing.T) {
	page := readAsset(t, "frontend/index.html")
	for _, field := range []string{
		"outputDir", "encoder", "profilesDir",
		"deleteInputOnFinish", "insertSubtitles", "useFormatTag", "shutdownOnFinish",
	} {
		if !strings.Contains(page, `name="`+field+`"`) {
			t.Fatalf("index.html has no %s control", field)
		}
	}
}
