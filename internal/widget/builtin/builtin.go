package builtin

import "github.com/hearthboard/hearth/internal/widget"

// Register installs every built-in widget factory into the registry.
func Register(r *widget.Registry) error {
	for id, factory := range map[string]widget.Factory{
		"clock":   NewClock,
		"links":   NewLinks,
		"sysinfo": NewSysInfo,
	} {
		if err := r.Register(id, factory); err != nil {
			return err
		}
	}
	return nil
}
