package dvid

import "testing"

func TestCommand(t *testing.T) {
	cmd := Command([]string{"Build", "/raw", "target=32", "bins=", "extra", "=odd"})
	if cmd.Name() != "build" {
		t.Errorf("expected name build, got %q", cmd.Name())
	}
	if cmd.Argument(1) != "/raw" || cmd.Argument(2) != "extra" || cmd.Argument(3) != "=odd" || cmd.Argument(4) != "" {
		t.Errorf("bad arguments: %q %q %q %q", cmd.Argument(1), cmd.Argument(2), cmd.Argument(3), cmd.Argument(4))
	}
	if v, found := cmd.Parameter("TARGET"); !found || v != "32" {
		t.Errorf("expected target=32, got %q (found %t)", v, found)
	}
	if v, found := cmd.Parameter("bins"); !found || v != "" {
		t.Errorf("expected empty bins setting, got %q (found %t)", v, found)
	}
	if _, found := cmd.Parameter("prefix"); found {
		t.Errorf("found unexpected prefix setting")
	}
	settings := cmd.Settings()
	if len(settings) != 2 {
		t.Errorf("expected 2 settings, got %v", settings)
	}
	if s, found, err := settings.GetString("target"); err != nil || !found || s != "32" {
		t.Errorf("bad target setting %q: %v", s, err)
	}
	if Command(nil).Name() != "" {
		t.Errorf("expected empty name for empty command")
	}
}
