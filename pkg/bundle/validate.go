package bundle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// canonicalSchema is the strict schema for the canonical bundle.
// additionalProperties is false at every depth: the canonical shape is
// closed, unknown fields are a rejection, not a shrug.
const canonicalSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["release", "tracks", "tracklist"],
  "properties": {
    "schema_version": {"type": "string", "minLength": 1},
    "release": {"$ref": "#/$defs/release"},
    "groups": {"type": "array", "items": {"$ref": "#/$defs/group"}},
    "tracks": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/track"}},
    "tracklist": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/tracklistItem"}},
    "songs": {"type": "array", "items": {"$ref": "#/$defs/song"}},
    "sources": {"type": "array", "items": {"$ref": "#/$defs/source"}}
  },
  "$defs": {
    "nonEmptyString": {"type": "string", "minLength": 1},
    "duration": {"type": "number", "minimum": 0},
    "stringList": {"type": "array", "items": {"$ref": "#/$defs/nonEmptyString"}},
    "release": {
      "type": "object",
      "additionalProperties": false,
      "required": ["name"],
      "properties": {
        "id": {"$ref": "#/$defs/nonEmptyString"},
        "name": {"$ref": "#/$defs/nonEmptyString"},
        "release_date": {"type": "string"},
        "format": {"type": "string"},
        "country": {"type": "string"},
        "catalog_number": {"type": "string"},
        "album_art": {"type": "string"},
        "notes": {"type": "string"},
        "master": {"type": "string"},
        "labels": {"type": "array", "items": {"$ref": "#/$defs/label"}},
        "guests": {"type": "array", "items": {"$ref": "#/$defs/guest"}},
        "listen_links": {"$ref": "#/$defs/stringList"}
      }
    },
    "group": {
      "type": "object",
      "additionalProperties": false,
      "required": ["name"],
      "properties": {
        "id": {"$ref": "#/$defs/nonEmptyString"},
        "name": {"$ref": "#/$defs/nonEmptyString"},
        "alt_names": {"$ref": "#/$defs/stringList"},
        "bio": {"type": "string"},
        "formed_date": {"type": "string"},
        "disbanded_date": {"type": "string"},
        "origin_city": {"$ref": "#/$defs/city"},
        "members": {"type": "array", "items": {"$ref": "#/$defs/member"}}
      }
    },
    "member": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string"},
        "name": {"type": "string"},
        "birth_name": {"type": "string"},
        "birth_date": {"type": "string"},
        "origin_city": {"$ref": "#/$defs/city"},
        "from_date": {"type": "string"},
        "to_date": {"type": "string"},
        "role": {"type": "string"},
        "roles": {"$ref": "#/$defs/stringList"},
        "instruments": {"$ref": "#/$defs/stringList"}
      }
    },
    "track": {
      "type": "object",
      "additionalProperties": false,
      "required": ["id", "title"],
      "properties": {
        "id": {"$ref": "#/$defs/nonEmptyString"},
        "title": {"$ref": "#/$defs/nonEmptyString"},
        "duration": {"$ref": "#/$defs/duration"},
        "isrc": {"type": "string"},
        "recording_date": {"type": "string"},
        "location": {"type": "string"},
        "listen_links": {"$ref": "#/$defs/stringList"},
        "performed_by_groups": {"type": "array", "items": {"$ref": "#/$defs/performingGroup"}},
        "guests": {"type": "array", "items": {"$ref": "#/$defs/guest"}},
        "producers": {"type": "array", "items": {"$ref": "#/$defs/personRef"}},
        "arrangers": {"type": "array", "items": {"$ref": "#/$defs/personRef"}},
        "recording_of": {"type": "string"},
        "cover_of": {"type": "string"},
        "samples": {"type": "array", "items": {"$ref": "#/$defs/sample"}}
      }
    },
    "performingGroup": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string"},
        "name": {"type": "string"},
        "role": {"type": "string"},
        "credited_as": {"type": "string"},
        "members": {"type": "array", "items": {"$ref": "#/$defs/member"}},
        "members_are_complete": {"type": "boolean"}
      }
    },
    "guest": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string"},
        "name": {"type": "string"},
        "role": {"type": "string"},
        "roles": {"$ref": "#/$defs/stringList"},
        "role_detail": {"type": "string"},
        "instruments": {"$ref": "#/$defs/stringList"},
        "credited_as": {"type": "string"}
      }
    },
    "personRef": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string"},
        "name": {"type": "string"},
        "role": {"type": "string"}
      }
    },
    "sample": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "track_id": {"type": "string"},
        "title": {"type": "string"},
        "portion_used": {"type": "string"},
        "cleared": {"type": "boolean"},
        "source": {"type": "string"}
      }
    },
    "tracklistItem": {
      "type": "object",
      "additionalProperties": false,
      "required": ["position", "track_title", "track_id"],
      "properties": {
        "position": {"$ref": "#/$defs/nonEmptyString"},
        "track_title": {"$ref": "#/$defs/nonEmptyString"},
        "track_id": {"$ref": "#/$defs/nonEmptyString"},
        "duration": {"$ref": "#/$defs/duration"},
        "disc_number": {"type": "integer", "minimum": 0},
        "track_number": {"type": "integer", "minimum": 0},
        "side": {"type": "string"},
        "is_bonus": {"type": "boolean"}
      }
    },
    "song": {
      "type": "object",
      "additionalProperties": false,
      "required": ["title"],
      "properties": {
        "id": {"type": "string"},
        "title": {"$ref": "#/$defs/nonEmptyString"},
        "alt_titles": {"$ref": "#/$defs/stringList"},
        "iswc": {"type": "string"},
        "year": {"type": "integer"},
        "lyrics": {"type": "string"},
        "writers": {"type": "array", "items": {"$ref": "#/$defs/writer"}}
      }
    },
    "writer": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string"},
        "name": {"type": "string"},
        "role": {"type": "string"},
        "roles": {"$ref": "#/$defs/stringList"},
        "role_detail": {"type": "string"},
        "credited_as": {"type": "string"},
        "share_percentage": {"type": "number", "minimum": 0, "maximum": 100}
      }
    },
    "label": {
      "type": "object",
      "additionalProperties": false,
      "required": ["name"],
      "properties": {
        "id": {"type": "string"},
        "name": {"$ref": "#/$defs/nonEmptyString"},
        "alt_names": {"$ref": "#/$defs/stringList"},
        "parent_label": {"$ref": "#/$defs/label"},
        "origin_city": {"$ref": "#/$defs/city"}
      }
    },
    "city": {
      "type": "object",
      "additionalProperties": false,
      "required": ["name"],
      "properties": {
        "id": {"type": "string"},
        "name": {"$ref": "#/$defs/nonEmptyString"},
        "latitude": {"type": "number", "minimum": -90, "maximum": 90},
        "longitude": {"type": "number", "minimum": -180, "maximum": 180}
      }
    },
    "source": {
      "type": "object",
      "additionalProperties": false,
      "required": ["url"],
      "properties": {
        "id": {"type": "string"},
        "url": {"$ref": "#/$defs/nonEmptyString"},
        "type": {"type": "string"},
        "accessed_at": {"type": "string"}
      }
    }
  }
}`

// Validator checks canonical bundles against the strict schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the canonical schema.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://discograph.schemas.local/bundle.schema.json"
	if err := c.AddResource(url, strings.NewReader(canonicalSchema)); err != nil {
		return nil, fmt.Errorf("bundle: add schema: %w", err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("bundle: compile schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// Validate checks a canonical bundle, reporting every violation rather
// than just the first.
func (v *Validator) Validate(b *Bundle) *ValidationErrors {
	raw, err := json.Marshal(b)
	if err != nil {
		return &ValidationErrors{Errors: []FieldError{{Path: "$", Message: err.Error()}}}
	}
	return v.ValidateJSON(raw)
}

// ValidateJSON checks raw JSON that claims to be a canonical bundle.
func (v *Validator) ValidateJSON(raw []byte) *ValidationErrors {
	var inst any
	if err := json.Unmarshal(raw, &inst); err != nil {
		return &ValidationErrors{Errors: []FieldError{{Path: "$", Message: "not valid JSON: " + err.Error()}}}
	}

	diags := &ValidationErrors{}
	if err := v.schema.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if ok := asValidationError(err, &ve); ok {
			collectLeaves(ve, diags)
		} else {
			diags.addf("$", "%v", err)
		}
	}
	if diags.HasErrors() {
		return diags
	}
	return nil
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}

// collectLeaves flattens the cause tree into one diagnostic per leaf
// violation, using the instance location as the path.
func collectLeaves(ve *jsonschema.ValidationError, diags *ValidationErrors) {
	if len(ve.Causes) == 0 {
		path := ve.InstanceLocation
		if path == "" {
			path = "$"
		}
		diags.addf(path, "%s", ve.Message)
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, diags)
	}
}
