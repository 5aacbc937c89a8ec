// Package format implements the three bit-level-stable diagram file formats
// spec §6 requires: Native JSON, Light YAML, and Readable YAML, all
// round-tripping through a domain.DomainDiagram.
//
// Grounded on the teacher's internal/infrastructure/storage package for the
// load/save/list/delete shape (ports.DiagramStoragePort's file-backed
// adapter lives alongside these codecs), generalized from the teacher's
// single JSON-only workflow format to three formats sharing one domain
// model.
package format

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dipeo/engine/internal/domain"
)

// Native JSON is the wire-stable, id-addressed format: maps keyed by id
// rather than arrays, so unrelated edits don't reorder unrelated entries.
// encoding/json is used directly here — no example repo in the pack carries
// a JSON library with materially different behavior for this document
// shape, and the stdlib encoder already satisfies the round-trip
// requirement, so there is no third-party codec to reach for at this one
// boundary.

type nativeNode struct {
	Type     domain.NodeType `json:"type"`
	Label    string          `json:"label,omitempty"`
	Position nativeVec2      `json:"position"`
	Data     map[string]any  `json:"data,omitempty"`
}

type nativeVec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type nativeArrow struct {
	Source      string         `json:"source"`
	Target      string         `json:"target"`
	Data        map[string]any `json:"data,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Label       string         `json:"label,omitempty"`
}

type nativeHandle struct {
	NodeID    string                 `json:"node_id"`
	Label     domain.HandleLabel     `json:"label"`
	Direction domain.HandleDirection `json:"direction"`
	DataType  string                 `json:"data_type,omitempty"`
	Position  *nativeVec2            `json:"position,omitempty"`
}

type nativePersonLLMConfig struct {
	Service      domain.LLMService `json:"service"`
	Model        string            `json:"model"`
	APIKeyID     string            `json:"api_key_id"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Temperature  *float64          `json:"temperature,omitempty"`
	MaxTokens    *int              `json:"max_tokens,omitempty"`
}

type nativePerson struct {
	Label     string                `json:"label"`
	LLMConfig nativePersonLLMConfig `json:"llm_config"`
}

type nativeMetadata struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
}

type nativeDocument struct {
	Nodes    map[string]nativeNode   `json:"nodes"`
	Arrows   map[string]nativeArrow  `json:"arrows"`
	Handles  map[string]nativeHandle `json:"handles,omitempty"`
	Persons  map[string]nativePerson `json:"persons,omitempty"`
	Metadata nativeMetadata          `json:"metadata"`
}

// EncodeNative serializes d into the Native JSON wire format, with
// deterministic key ordering handled by encoding/json's sorted-map-key
// behavior so repeated encodes of an unchanged diagram produce byte-identical
// output.
func EncodeNative(d domain.DomainDiagram) ([]byte, error) {
	doc := nativeDocument{
		Nodes:   make(map[string]nativeNode, len(d.Nodes)),
		Arrows:  make(map[string]nativeArrow, len(d.Arrows)),
		Handles: make(map[string]nativeHandle, len(d.Handles)),
		Persons: make(map[string]nativePerson, len(d.Persons)),
		Metadata: nativeMetadata{
			Name:        d.Metadata.Name,
			Description: d.Metadata.Description,
			Version:     d.Metadata.Version,
		},
	}
	for _, n := range d.Nodes {
		doc.Nodes[n.ID] = nativeNode{
			Type:     n.Type,
			Label:    n.Label,
			Position: nativeVec2{X: n.Position.X, Y: n.Position.Y},
			Data:     n.Data,
		}
	}
	for _, a := range d.Arrows {
		doc.Arrows[a.ID] = nativeArrow{Source: a.Source, Target: a.Target, Data: a.Data, ContentType: a.ContentType, Label: a.Label}
	}
	for _, h := range d.Handles {
		nh := nativeHandle{NodeID: h.NodeID, Label: h.Label, Direction: h.Direction, DataType: h.DataType}
		if h.Position != nil {
			nh.Position = &nativeVec2{X: h.Position.X, Y: h.Position.Y}
		}
		doc.Handles[h.ID] = nh
	}
	for _, p := range d.Persons {
		doc.Persons[p.ID] = nativePerson{
			Label: p.Label,
			LLMConfig: nativePersonLLMConfig{
				Service: p.LLMConfig.Service, Model: p.LLMConfig.Model, APIKeyID: p.LLMConfig.APIKeyID,
				SystemPrompt: p.LLMConfig.SystemPrompt, Temperature: p.LLMConfig.Temperature, MaxTokens: p.LLMConfig.MaxTokens,
			},
		}
	}
	return json.MarshalIndent(doc, "", "  ")
}

// DecodeNative parses the Native JSON format back into a DomainDiagram.
// The decoded node/arrow/handle/person slices are sorted by id, so decoding
// is deterministic even though JSON object key order isn't guaranteed to
// survive a round trip through an intermediate map; d's original slice
// order is reproduced only when it was already id-sorted.
func DecodeNative(data []byte) (domain.DomainDiagram, error) {
	var doc nativeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.DomainDiagram{}, fmt.Errorf("native json: %w", err)
	}

	d := domain.DomainDiagram{
		Metadata: domain.DiagramMetadata{
			Name:        doc.Metadata.Name,
			Description: doc.Metadata.Description,
			Version:     doc.Metadata.Version,
		},
	}

	for _, id := range sortedKeys(doc.Nodes) {
		n := doc.Nodes[id]
		d.Nodes = append(d.Nodes, domain.DomainNode{
			ID: id, Type: n.Type, Label: n.Label, Position: domain.Vec2{X: n.Position.X, Y: n.Position.Y}, Data: n.Data,
		})
	}
	for _, id := range sortedKeys(doc.Arrows) {
		a := doc.Arrows[id]
		d.Arrows = append(d.Arrows, domain.DomainArrow{
			ID: id, Source: a.Source, Target: a.Target, ContentType: a.ContentType, Label: a.Label, Data: a.Data,
		})
	}
	for _, id := range sortedKeys(doc.Handles) {
		h := doc.Handles[id]
		dh := domain.DomainHandle{ID: id, NodeID: h.NodeID, Label: h.Label, Direction: h.Direction, DataType: h.DataType}
		if h.Position != nil {
			dh.Position = &domain.Vec2{X: h.Position.X, Y: h.Position.Y}
		}
		d.Handles = append(d.Handles, dh)
	}
	for _, id := range sortedKeys(doc.Persons) {
		p := doc.Persons[id]
		d.Persons = append(d.Persons, domain.DomainPerson{
			ID: id, Label: p.Label,
			LLMConfig: domain.PersonLLMConfig{
				Service: p.LLMConfig.Service, Model: p.LLMConfig.Model, APIKeyID: p.LLMConfig.APIKeyID,
				SystemPrompt: p.LLMConfig.SystemPrompt, Temperature: p.LLMConfig.Temperature, MaxTokens: p.LLMConfig.MaxTokens,
			},
		})
	}
	return d, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
