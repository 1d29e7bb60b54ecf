// Package model defines the request and response shapes shared by the
// dispatcher, the HTTP layer and the CLI.
package model

// Envelope wraps every dispatcher outcome.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Msg     string `json:"msg"`
}

func OK(data any, msg string) Envelope {
	return Envelope{Success: true, Data: data, Msg: msg}
}

func Fail(err error) Envelope {
	return Envelope{Success: false, Data: nil, Msg: err.Error()}
}

// CommandRequest is the body of POST /commands/{verb}. Path is optional for
// disk_read_dir only.
type CommandRequest struct {
	Path *string `json:"path"`
}

type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Length   int    `json:"length"`
	Decimals int    `json:"decimals"`
}

type TileRange struct {
	Zoom int    `json:"zoom"`
	MinX uint32 `json:"min_x"`
	MinY uint32 `json:"min_y"`
	MaxX uint32 `json:"max_x"`
	MaxY uint32 `json:"max_y"`
}

// ShapefileInfo is the payload of the shapefile_info verb. Geographic
// sections are omitted when the bounds are not WGS84 degrees.
type ShapefileInfo struct {
	Path        string      `json:"path"`
	ShapeType   string      `json:"shape_type"`
	Records     int         `json:"records"`
	Fields      []Field     `json:"fields"`
	Bounds      [4]float64  `json:"bounds"`
	Mercator    *[4]float64 `json:"mercator_bounds,omitempty"`
	Tiles       *TileRange  `json:"tiles,omitempty"`
	H3Res       int         `json:"h3_res,omitempty"`
	H3Cells     []string    `json:"h3_cells,omitempty"`
	H3Truncated bool        `json:"h3_truncated,omitempty"`
}

// Published is the payload of a successful create_server.
type Published struct {
	Archive    string `json:"archive"`
	TilesURL   string `json:"tiles_url"`
	TileJSON   string `json:"tilejson_url"`
	SidecarURL string `json:"sidecar"`
	SidecarPID int    `json:"sidecar_pid,omitempty"`
}
