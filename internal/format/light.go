package format

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/dipeo/engine/internal/domain"
)

// Light YAML keeps explicit node ids (so it round-trips losslessly against
// Native JSON) but replaces handle-id arrow endpoints with
// "<node_label>:<handle_label>" references, trading id-precision for
// at-a-glance readability of who connects to whom.

type lightNode struct {
	ID       string         `yaml:"id"`
	Label    string         `yaml:"label"`
	Type     string         `yaml:"type"`
	Position lightVec2      `yaml:"position,omitempty"`
	Data     map[string]any `yaml:"data,omitempty"`
}

type lightVec2 struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

type lightConnection struct {
	From        string         `yaml:"from"`
	To          string         `yaml:"to"`
	ContentType string         `yaml:"content_type,omitempty"`
	Label       string         `yaml:"label,omitempty"`
	Data        map[string]any `yaml:"data,omitempty"`
}

type lightPerson struct {
	ID           string   `yaml:"id"`
	Label        string   `yaml:"label"`
	Service      string   `yaml:"service"`
	Model        string   `yaml:"model"`
	APIKeyID     string   `yaml:"api_key_id"`
	SystemPrompt string   `yaml:"system_prompt,omitempty"`
	Temperature  *float64 `yaml:"temperature,omitempty"`
	MaxTokens    *int     `yaml:"max_tokens,omitempty"`
}

type lightDocument struct {
	Nodes       []lightNode       `yaml:"nodes"`
	Connections []lightConnection `yaml:"connections"`
	Persons     []lightPerson     `yaml:"persons,omitempty"`
	Metadata    nativeMetadata    `yaml:"metadata,omitempty"`
}

// EncodeLight serializes d into the Light YAML format.
func EncodeLight(d domain.DomainDiagram) ([]byte, error) {
	labelByID := make(map[string]string, len(d.Nodes))
	doc := lightDocument{
		Metadata: nativeMetadata{Name: d.Metadata.Name, Description: d.Metadata.Description, Version: d.Metadata.Version},
	}
	for _, n := range d.Nodes {
		label := n.Label
		if label == "" {
			label = n.ID
		}
		labelByID[n.ID] = label
		doc.Nodes = append(doc.Nodes, lightNode{
			ID: n.ID, Label: label, Type: string(n.Type),
			Position: lightVec2{X: n.Position.X, Y: n.Position.Y}, Data: n.Data,
		})
	}
	for _, a := range d.Arrows {
		from, err := handleRefFromID(a.Source, labelByID)
		if err != nil {
			return nil, err
		}
		to, err := handleRefFromID(a.Target, labelByID)
		if err != nil {
			return nil, err
		}
		doc.Connections = append(doc.Connections, lightConnection{From: from, To: to, ContentType: a.ContentType, Label: a.Label, Data: a.Data})
	}
	for _, p := range d.Persons {
		doc.Persons = append(doc.Persons, lightPerson{
			ID: p.ID, Label: p.Label, Service: string(p.LLMConfig.Service), Model: p.LLMConfig.Model,
			APIKeyID: p.LLMConfig.APIKeyID, SystemPrompt: p.LLMConfig.SystemPrompt,
			Temperature: p.LLMConfig.Temperature, MaxTokens: p.LLMConfig.MaxTokens,
		})
	}
	return yaml.Marshal(doc)
}

// DecodeLight parses the Light YAML format into a DomainDiagram. Handles
// are not declared explicitly in this format; the compiler synthesizes them
// via domain.DefaultHandles from each node's type, same as a diagram that
// omitted its handles section in Native JSON.
func DecodeLight(data []byte) (domain.DomainDiagram, error) {
	var doc lightDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return domain.DomainDiagram{}, fmt.Errorf("light yaml: %w", err)
	}

	idByLabel := make(map[string]string, len(doc.Nodes))
	d := domain.DomainDiagram{
		Metadata: domain.DiagramMetadata{Name: doc.Metadata.Name, Description: doc.Metadata.Description, Version: doc.Metadata.Version},
	}
	for _, n := range doc.Nodes {
		idByLabel[n.Label] = n.ID
		d.Nodes = append(d.Nodes, domain.DomainNode{
			ID: n.ID, Type: domain.NodeType(n.Type), Label: n.Label,
			Position: domain.Vec2{X: n.Position.X, Y: n.Position.Y}, Data: n.Data,
		})
	}
	for i, c := range doc.Connections {
		source, err := handleIDFromRef(c.From, idByLabel)
		if err != nil {
			return domain.DomainDiagram{}, err
		}
		target, err := handleIDFromRef(c.To, idByLabel)
		if err != nil {
			return domain.DomainDiagram{}, err
		}
		d.Arrows = append(d.Arrows, domain.DomainArrow{
			ID: fmt.Sprintf("arrow-%d", i), Source: source, Target: target, ContentType: c.ContentType, Label: c.Label, Data: c.Data,
		})
	}
	for _, p := range doc.Persons {
		d.Persons = append(d.Persons, domain.DomainPerson{
			ID: p.ID, Label: p.Label,
			LLMConfig: domain.PersonLLMConfig{
				Service: domain.LLMService(p.Service), Model: p.Model, APIKeyID: p.APIKeyID,
				SystemPrompt: p.SystemPrompt, Temperature: p.Temperature, MaxTokens: p.MaxTokens,
			},
		})
	}
	return d, nil
}

// handleRefFromID renders a canonical handle id ("<node_id>:<label>") as a
// "<node_label>:<label>" reference for the human-facing formats.
func handleRefFromID(handleID string, labelByID map[string]string) (string, error) {
	nodeID, label, err := domain.ParseHandle(handleID)
	if err != nil {
		return "", err
	}
	nodeLabel, ok := labelByID[nodeID]
	if !ok {
		return "", fmt.Errorf("handle %q references unknown node %q", handleID, nodeID)
	}
	return domain.BuildHandle(nodeLabel, label), nil
}

// handleIDFromRef resolves a "<node_label>:<label>" reference back to a
// canonical handle id. Ambiguous labels (two nodes sharing one label) are
// not rejected: in the caller's idByLabel construction the later node
// silently wins the map entry, so diagrams authored in this format are expected to
// keep labels unique, the same assumption Readable YAML makes.
func handleIDFromRef(ref string, idByLabel map[string]string) (string, error) {
	nodeLabel, label, err := domain.ParseHandle(ref)
	if err != nil {
		return "", err
	}
	id, ok := idByLabel[nodeLabel]
	if !ok {
		return "", fmt.Errorf("connection references unknown node label %q", nodeLabel)
	}
	return domain.BuildHandle(id, label), nil
}
