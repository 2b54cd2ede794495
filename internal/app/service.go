package app

import (
	"time"

	"packstash/internal/adapters"
	"packstash/internal/ports"
)

// Service bundles the adapters every operation shares. Fetch builds its
// cache and network adapters per request because their roots come from
// the request itself.
type Service struct {
	OutputReader   ports.OutputReaderPort
	SBOMWriter     ports.SBOMPort
	ConfigInjector ports.ConfigInjectorPort
	Clock          func() time.Time
	Version        string
}

func NewService(version string) Service {
	return Service{
		OutputReader:   adapters.NewOutputReaderAdapter(),
		SBOMWriter:     adapters.NewSBOMWriterAdapter(),
		ConfigInjector: adapters.NewConfigInjectorAdapter(),
		Clock:          time.Now,
		Version:        version,
	}
}
