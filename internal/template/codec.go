package template

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/penandalokasi/skirkmarble/pkg/canvas"
)

// SchemaVersion is the persistence document version this codec writes.
const SchemaVersion = "2.1.0"

// StorageKey is the logical storage key the template document lives under.
const StorageKey = "bmTemplates"

// documentFields are the top-level keys the codec understands. Anything
// else in a loaded document is preserved verbatim across read-modify-write.
var documentFields = []string{
	"whoami", "scriptVersion", "schemaVersion",
	"templates", "lastModified", "templateCount", "totalPixels",
}

var templateFields = []string{
	"displayName", "anchor", "imageWidth", "imageHeight",
	"pixelCount", "validPixelCount", "disabledColors", "enhancedColors",
	"enabled", "thumbnail", "shards",
}

type serializedAnchor struct {
	TileX  int `json:"tileX"`
	TileY  int `json:"tileY"`
	PixelX int `json:"pixelX"`
	PixelY int `json:"pixelY"`
}

type serializedTemplate struct {
	DisplayName     string            `json:"displayName"`
	Anchor          serializedAnchor  `json:"anchor"`
	ImageWidth      int               `json:"imageWidth"`
	ImageHeight     int               `json:"imageHeight"`
	PixelCount      int               `json:"pixelCount"`
	ValidPixelCount int               `json:"validPixelCount"`
	DisabledColors  []int             `json:"disabledColors"`
	EnhancedColors  []int             `json:"enhancedColors"`
	Enabled         bool              `json:"enabled"`
	Thumbnail       string            `json:"thumbnail"`
	Shards          map[string]string `json:"shards"`
}

// encodeDocument serializes the store's templates into the persistence
// schema. extra carries unknown top-level fields from the last load.
func encodeDocument(whoami, scriptVersion string, templates map[string]*Template, extra map[string]json.RawMessage, now time.Time) (string, error) {
	doc := make(map[string]any, len(extra)+len(documentFields))
	for k, v := range extra {
		doc[k] = v
	}

	serialized := make(map[string]any, len(templates))
	totalPixels := 0
	for id, t := range templates {
		st, err := encodeTemplate(t)
		if err != nil {
			return "", err
		}
		serialized[id] = st
		totalPixels += t.pixelCount
	}

	doc["whoami"] = whoami
	doc["scriptVersion"] = scriptVersion
	doc["schemaVersion"] = SchemaVersion
	doc["templates"] = serialized
	doc["lastModified"] = now.UTC().Format(time.RFC3339)
	doc["templateCount"] = len(templates)
	doc["totalPixels"] = totalPixels

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding template document: %w", err)
	}
	return string(raw), nil
}

func encodeTemplate(t *Template) (map[string]any, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]any, len(t.extra)+len(templateFields))
	for k, v := range t.extra {
		out[k] = v
	}

	shards := make(map[string]string, len(t.shards))
	for key, s := range t.shards {
		dataURL, err := s.EncodeDataURL()
		if err != nil {
			return nil, err
		}
		shards[key.String()] = dataURL
	}

	out["displayName"] = t.displayName
	out["anchor"] = serializedAnchor{
		TileX: t.anchor.Tx, TileY: t.anchor.Ty,
		PixelX: t.anchor.Px, PixelY: t.anchor.Py,
	}
	out["imageWidth"] = t.imageW
	out["imageHeight"] = t.imageH
	out["pixelCount"] = t.pixelCount
	out["validPixelCount"] = t.validPixelCount
	out["disabledColors"] = t.disabled.IDs()
	out["enhancedColors"] = t.enhanced.IDs()
	out["enabled"] = t.enabled
	out["thumbnail"] = "data:image/png;base64," + base64.StdEncoding.EncodeToString(t.thumbnail)
	out["shards"] = shards
	return out, nil
}

// decodeDocument parses a persisted document. Absent fields default to
// zero values; unknown fields land in the returned extra maps.
func decodeDocument(value string) (templates map[string]*Template, extra map[string]json.RawMessage, err error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(value), &raw); err != nil {
		return nil, nil, fmt.Errorf("parsing template document: %w", err)
	}

	extra = make(map[string]json.RawMessage)
	for k, v := range raw {
		if !known(documentFields, k) {
			extra[k] = v
		}
	}

	templates = make(map[string]*Template)
	if rawTemplates, ok := raw["templates"]; ok {
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(rawTemplates, &entries); err != nil {
			return nil, nil, fmt.Errorf("parsing templates: %w", err)
		}
		for id, entry := range entries {
			t, err := decodeTemplate(id, entry)
			if err != nil {
				return nil, nil, err
			}
			templates[id] = t
		}
	}
	return templates, extra, nil
}

func decodeTemplate(id string, raw json.RawMessage) (*Template, error) {
	var st serializedTemplate
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", id, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", id, err)
	}
	extra := make(map[string]any)
	for k, v := range fields {
		if !known(templateFields, k) {
			extra[k] = v
		}
	}

	t := &Template{
		id:          id,
		displayName: st.DisplayName,
		anchor: canvas.Point{
			Tx: st.Anchor.TileX, Ty: st.Anchor.TileY,
			Px: st.Anchor.PixelX, Py: st.Anchor.PixelY,
		},
		imageW:          st.ImageWidth,
		imageH:          st.ImageHeight,
		pixelCount:      st.PixelCount,
		validPixelCount: st.ValidPixelCount,
		disabled:        FromIDs(st.DisabledColors),
		enhanced:        FromIDs(st.EnhancedColors),
		enabled:         st.Enabled,
		shards:          make(map[canvas.ShardKey]*Shard, len(st.Shards)),
		extra:           extra,
	}

	if st.Thumbnail != "" {
		if idx := strings.Index(st.Thumbnail, ","); idx >= 0 {
			if thumb, err := base64.StdEncoding.DecodeString(st.Thumbnail[idx+1:]); err == nil {
				t.thumbnail = thumb
			}
		}
	}

	for keyStr, dataURL := range st.Shards {
		key, err := canvas.ParseShardKey(keyStr)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", id, err)
		}
		s, err := DecodeShardDataURL(key, dataURL)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", id, err)
		}
		t.shards[key] = s
	}
	t.indexShards()
	return t, nil
}

func known(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}
