package hub

import "os"

// loadConfigFile reads a plain-text MOTD/HELP/RULES file relative to
// dir. It returns ("", false) if the file doesn't exist — the caller
// falls back to a built-in default. Any templating or reloading of
// these files is out of scope; this is just enough to let the command
// table call something.
func loadConfigFile(dir, name string) (string, bool) {
	b, err := os.ReadFile(dir + "/" + name)
	if err != nil {
		return "", false
	}
	return string(b), true
}
