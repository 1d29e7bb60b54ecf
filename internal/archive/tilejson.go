package archive

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

type TileJSON struct {
	TileJSON     string            `json:"tilejson"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Format       string            `json:"format,omitempty"`
	Scheme       string            `json:"scheme"`
	Tiles        []string          `json:"tiles"`
	MinZoom      int               `json:"minzoom"`
	MaxZoom      int               `json:"maxzoom"`
	Bounds       []float64         `json:"bounds,omitempty"`
	Center       []float64         `json:"center,omitempty"`
	VectorLayers []json.RawMessage `json:"vector_layers,omitempty"`
}

// TileJSON describes the archive for map clients. tileURL is the XYZ
// template clients request tiles from.
func (a *Archive) TileJSON(ctx context.Context, name, tileURL string) (TileJSON, error) {
	md, err := a.Metadata(ctx)
	if err != nil {
		return TileJSON{}, err
	}
	return buildTileJSON(md, name, tileURL), nil
}

func buildTileJSON(md map[string]string, name, tileURL string) TileJSON {
	tj := TileJSON{
		TileJSON:    "3.0.0",
		Name:        name,
		Description: md["description"],
		Format:      md["format"],
		Scheme:      "xyz",
		Tiles:       []string{tileURL},
		MinZoom:     atoiOr(md["minzoom"], 0),
		MaxZoom:     atoiOr(md["maxzoom"], 22),
		Bounds:      floats(md["bounds"], 4),
		Center:      floats(md["center"], 3),
	}
	if v := md["name"]; v != "" && name == "" {
		tj.Name = v
	}

	// ogr2ogr stores the vector layer list as a JSON document under "json"
	if raw := md["json"]; raw != "" {
		var doc struct {
			VectorLayers []json.RawMessage `json:"vector_layers"`
		}
		if json.Unmarshal([]byte(raw), &doc) == nil {
			tj.VectorLayers = doc.VectorLayers
		}
	}
	return tj
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

func floats(s string, n int) []float64 {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil
		}
		out[i] = f
	}
	return out
}
