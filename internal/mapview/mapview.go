// Package mapview projects the registry into what the map widget renders.
package mapview

import (
	"fmt"
	"net/url"

	"github.com/google/go-querystring/query"

	"github.com/diagnosis/railwatch/internal/registry"
	"github.com/diagnosis/railwatch/internal/search"
)

type Center struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Marker struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Position Center          `json:"position"`
	Status   registry.Status `json:"status"`
}

type View struct {
	Center    Center   `json:"center"`
	Zoom      int      `json:"zoom"`
	Markers   []Marker `json:"markers"`
	StaticURL string   `json:"static_url,omitempty"`
}

type Options struct {
	Fallback       Center
	Zoom           int
	StaticMapsBase string
	StaticMapsKey  string
}

type Adapter struct {
	src  search.Source
	opts Options
}

func NewAdapter(src search.Source, opts Options) *Adapter {
	if opts.Zoom <= 0 {
		opts.Zoom = 12
	}
	return &Adapter{src: src, opts: opts}
}

// Build centers the map on the first search result, else the first gate,
// else the configured fallback.
func (a *Adapter) Build(results search.ResultSet) View {
	gates := a.src.All()

	v := View{Center: a.opts.Fallback, Zoom: a.opts.Zoom, Markers: make([]Marker, 0, len(gates))}
	switch {
	case len(results.Gates) > 0:
		v.Center = Center{Lat: results.Gates[0].Latitude, Lng: results.Gates[0].Longitude}
	case len(gates) > 0:
		v.Center = Center{Lat: gates[0].Latitude, Lng: gates[0].Longitude}
	}

	for _, g := range gates {
		v.Markers = append(v.Markers, Marker{
			ID:       g.ID,
			Title:    g.Name,
			Position: Center{Lat: g.Latitude, Lng: g.Longitude},
			Status:   g.Status,
		})
	}

	if a.opts.StaticMapsKey != "" && a.opts.StaticMapsBase != "" {
		u, err := staticURL(a.opts.StaticMapsBase, a.opts.StaticMapsKey, v)
		if err == nil {
			v.StaticURL = u
		}
	}
	return v
}

type staticMapParams struct {
	Center  string   `url:"center"`
	Zoom    int      `url:"zoom"`
	Size    string   `url:"size"`
	Markers []string `url:"markers,omitempty"`
	Key     string   `url:"key"`
}

func staticURL(base, key string, v View) (string, error) {
	p := staticMapParams{
		Center: formatLatLng(v.Center),
		Zoom:   v.Zoom,
		Size:   "640x400",
		Key:    key,
	}
	for _, m := range v.Markers {
		color, label := "red", "C"
		if m.Status == registry.StatusOpen {
			color, label = "green", "O"
		}
		p.Markers = append(p.Markers, fmt.Sprintf("color:%s|label:%s|%s", color, label, formatLatLng(m.Position)))
	}

	values, err := query.Values(p)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

func formatLatLng(c Center) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}
