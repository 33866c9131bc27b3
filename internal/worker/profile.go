package worker

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Profile is the startup file read by rhost-worker --profile:
//
//	working_directory = "/srv/analysis"
//	lib_paths = ["/opt/rhost/library"]
//
//	[options]
//	digits = 7
//	warn = 1
type Profile struct {
	WorkingDirectory string         `toml:"working_directory"`
	LibPaths         []string       `toml:"lib_paths"`
	Options          map[string]any `toml:"options"`
}

// LoadProfile parses the profile at path
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return &p, nil
}

// Apply fills the unset fields of opts from the profile. Profile options
// never replace settings already present in opts.
func (p *Profile) Apply(opts *Options) {
	if opts.WorkingDirectory == "" {
		opts.WorkingDirectory = p.WorkingDirectory
	}
	if len(opts.LibPaths) == 0 {
		opts.LibPaths = append([]string(nil), p.LibPaths...)
	}
	if len(p.Options) == 0 {
		return
	}
	if opts.Settings == nil {
		opts.Settings = make(map[string]any, len(p.Options))
	}
	for k, v := range p.Options {
		if _, ok := opts.Settings[k]; !ok {
			opts.Settings[k] = v
		}
	}
}
