package addon

import (
	"github.com/luinog1/crumble-engine/pkg/stremio"
)

// wireManifest decodes the tolerant protocol shape before it is converted
// into the registry's flat Manifest.
type wireManifest stremio.Manifest

func (w *wireManifest) toManifest() *Manifest {
	m := &Manifest{
		ID:          w.ID,
		Version:     w.Version,
		Name:        w.Name,
		Description: w.Description,
		Resources:   []string(w.Resources),
		Types:       w.Types,
	}
	for _, c := range w.Catalogs {
		desc := CatalogDescriptor{Type: c.Type, ID: c.ID, Name: c.Name}
		for _, e := range c.Extra {
			desc.Extra = append(desc.Extra, ExtraParamSpec{
				Name:       e.Name,
				Options:    e.Options,
				IsRequired: e.IsRequired,
			})
		}
		m.Catalogs = append(m.Catalogs, desc)
	}
	return m
}
