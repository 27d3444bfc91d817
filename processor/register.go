package processor

import (
	"fmt"
	"sort"

	"github.com/kbukum/taskflow/dag"
	"github.com/kbukum/taskflow/logger"
)

// Register binds every configured processing type to an HTTP processor and
// returns the bound types in order.
func Register(reg *dag.Registry, cfgs map[string]Config, log *logger.Logger) ([]string, error) {
	names := make([]string, 0, len(cfgs))
	for name := range cfgs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cfg := cfgs[name]
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("processors.%s: %w", name, err)
		}
		p, err := NewHTTP(name, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("processors.%s: %w", name, err)
		}
		reg.RegisterProcessor(name, p)
	}
	return names, nil
}
