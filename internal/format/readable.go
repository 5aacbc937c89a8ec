package format

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/dipeo/engine/internal/domain"
)

// Readable YAML drops node ids entirely in favor of addressing everything by
// label: a workflow list of nodes, a flow dict keyed by source label whose
// value is either a single target label (an arrow leaving the node's
// "output" handle) or a
// nested map of handle label to target label (for branching nodes such as
// condition), and an optional persons map keyed by person label. This is the
// format a person would hand-author; round-tripping it through the compiler
// synthesizes fresh node/arrow ids, so Readable YAML is lossy on ids only, as
// spec §6 allows.

type readableNode struct {
	Label    string         `yaml:"label"`
	Type     string         `yaml:"type"`
	Position *lightVec2     `yaml:"position,omitempty"`
	Data     map[string]any `yaml:"data,omitempty"`
}

type readablePerson struct {
	Service      string   `yaml:"service"`
	Model        string   `yaml:"model"`
	APIKeyID     string   `yaml:"api_key_id,omitempty"`
	SystemPrompt string   `yaml:"system_prompt,omitempty"`
	Temperature  *float64 `yaml:"temperature,omitempty"`
	MaxTokens    *int     `yaml:"max_tokens,omitempty"`
}

// readableTarget is either a bare target label ("End") or an annotated
// connection ({to: End, content_type: ..., label: ...}); the yaml tag is
// decoded manually in DecodeReadable since its shape depends on the value.
type readableTarget struct {
	To          string         `yaml:"to"`
	ContentType string         `yaml:"content_type,omitempty"`
	Label       string         `yaml:"label,omitempty"`
	Data        map[string]any `yaml:"data,omitempty"`
}

type readableDocument struct {
	Workflow []readableNode            `yaml:"workflow"`
	Flow     map[string]yaml.Node      `yaml:"flow"`
	Persons  map[string]readablePerson `yaml:"persons,omitempty"`
	Metadata nativeMetadata            `yaml:"metadata,omitempty"`
}

// EncodeReadable serializes d into the Readable YAML format. A node's
// outgoing arrows collapse to a bare target label when there is exactly one
// and it leaves through the node's "output" handle with no extra content-type
// or arrow label to preserve; otherwise they expand to a handle->target map
// (or an annotated {to: ...} form for a single non-default/annotated arrow).
func EncodeReadable(d domain.DomainDiagram) ([]byte, error) {
	labelByID := make(map[string]string, len(d.Nodes))
	for _, n := range d.Nodes {
		label := n.Label
		if label == "" {
			label = n.ID
		}
		labelByID[n.ID] = label
	}

	doc := readableDocument{
		Metadata: nativeMetadata{Name: d.Metadata.Name, Description: d.Metadata.Description, Version: d.Metadata.Version},
		Flow:     make(map[string]yaml.Node),
	}
	for _, n := range d.Nodes {
		var pos *lightVec2
		if n.Position.X != 0 || n.Position.Y != 0 {
			pos = &lightVec2{X: n.Position.X, Y: n.Position.Y}
		}
		doc.Workflow = append(doc.Workflow, readableNode{Label: labelByID[n.ID], Type: string(n.Type), Position: pos, Data: n.Data})
	}

	outgoing := make(map[string][]domain.DomainArrow)
	for _, a := range d.Arrows {
		nodeID, _, err := domain.ParseHandle(a.Source)
		if err != nil {
			return nil, err
		}
		outgoing[nodeID] = append(outgoing[nodeID], a)
	}

	for nodeID, arrows := range outgoing {
		sourceLabel := labelByID[nodeID]
		if len(arrows) == 1 {
			a := arrows[0]
			_, handleLabel, err := domain.ParseHandle(a.Source)
			if err != nil {
				return nil, err
			}
			targetNodeID, _, err := domain.ParseHandle(a.Target)
			if err != nil {
				return nil, err
			}
			targetLabel := labelByID[targetNodeID]
			if handleLabel == domain.HandleLabelOutput && a.ContentType == "" && a.Label == "" && len(a.Data) == 0 {
				var node yaml.Node
				_ = node.Encode(targetLabel)
				doc.Flow[sourceLabel] = node
				continue
			}
			var node yaml.Node
			_ = node.Encode(readableTarget{To: targetLabel, ContentType: a.ContentType, Label: a.Label, Data: a.Data})
			doc.Flow[sourceLabel] = node
			continue
		}
		branches := make(map[string]readableTarget, len(arrows))
		for _, a := range arrows {
			_, handleLabel, err := domain.ParseHandle(a.Source)
			if err != nil {
				return nil, err
			}
			targetNodeID, _, err := domain.ParseHandle(a.Target)
			if err != nil {
				return nil, err
			}
			branches[string(handleLabel)] = readableTarget{To: labelByID[targetNodeID], ContentType: a.ContentType, Label: a.Label, Data: a.Data}
		}
		var node yaml.Node
		if err := node.Encode(branches); err != nil {
			return nil, err
		}
		doc.Flow[sourceLabel] = node
	}

	for _, p := range d.Persons {
		if doc.Persons == nil {
			doc.Persons = make(map[string]readablePerson)
		}
		label := p.Label
		if label == "" {
			label = p.ID
		}
		doc.Persons[label] = readablePerson{
			Service: string(p.LLMConfig.Service), Model: p.LLMConfig.Model, APIKeyID: p.LLMConfig.APIKeyID,
			SystemPrompt: p.LLMConfig.SystemPrompt, Temperature: p.LLMConfig.Temperature, MaxTokens: p.LLMConfig.MaxTokens,
		}
	}

	return yaml.Marshal(doc)
}

// DecodeReadable parses the Readable YAML format into a DomainDiagram,
// synthesizing node, arrow, and person ids from their labels (labels are
// assumed unique, same as Light YAML).
func DecodeReadable(data []byte) (domain.DomainDiagram, error) {
	var doc readableDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return domain.DomainDiagram{}, fmt.Errorf("readable yaml: %w", err)
	}

	d := domain.DomainDiagram{
		Metadata: domain.DiagramMetadata{Name: doc.Metadata.Name, Description: doc.Metadata.Description, Version: doc.Metadata.Version},
	}
	idByLabel := make(map[string]string, len(doc.Workflow))
	for _, n := range doc.Workflow {
		id := "node-" + n.Label
		idByLabel[n.Label] = id
		var pos domain.Vec2
		if n.Position != nil {
			pos = domain.Vec2{X: n.Position.X, Y: n.Position.Y}
		}
		d.Nodes = append(d.Nodes, domain.DomainNode{ID: id, Type: domain.NodeType(n.Type), Label: n.Label, Position: pos, Data: n.Data})
	}

	arrowIndex := 0
	addArrow := func(sourceLabel, handleLabel, targetLabel string, t readableTarget) error {
		sourceID, ok := idByLabel[sourceLabel]
		if !ok {
			return fmt.Errorf("flow references unknown node label %q", sourceLabel)
		}
		targetID, ok := idByLabel[targetLabel]
		if !ok {
			return fmt.Errorf("flow references unknown node label %q", targetLabel)
		}
		d.Arrows = append(d.Arrows, domain.DomainArrow{
			ID:          fmt.Sprintf("arrow-%d", arrowIndex),
			Source:      domain.BuildHandle(sourceID, domain.HandleLabel(handleLabel)),
			Target:      domain.BuildHandle(targetID, domain.HandleLabelInput),
			ContentType: t.ContentType, Label: t.Label, Data: t.Data,
		})
		arrowIndex++
		return nil
	}

	for sourceLabel, node := range doc.Flow {
		switch node.Kind {
		case yaml.ScalarNode:
			var target string
			if err := node.Decode(&target); err != nil {
				return domain.DomainDiagram{}, fmt.Errorf("flow[%s]: %w", sourceLabel, err)
			}
			if err := addArrow(sourceLabel, string(domain.HandleLabelOutput), target, readableTarget{}); err != nil {
				return domain.DomainDiagram{}, err
			}
		case yaml.MappingNode:
			var raw map[string]yaml.Node
			if err := node.Decode(&raw); err != nil {
				return domain.DomainDiagram{}, fmt.Errorf("flow[%s]: %w", sourceLabel, err)
			}
			if _, ok := raw["to"]; ok {
				var t readableTarget
				if err := node.Decode(&t); err != nil {
					return domain.DomainDiagram{}, fmt.Errorf("flow[%s]: %w", sourceLabel, err)
				}
				if err := addArrow(sourceLabel, string(domain.HandleLabelOutput), t.To, t); err != nil {
					return domain.DomainDiagram{}, err
				}
				continue
			}
			for handleLabel, v := range raw {
				switch v.Kind {
				case yaml.ScalarNode:
					var target string
					if err := v.Decode(&target); err != nil {
						return domain.DomainDiagram{}, err
					}
					if err := addArrow(sourceLabel, handleLabel, target, readableTarget{}); err != nil {
						return domain.DomainDiagram{}, err
					}
				case yaml.MappingNode:
					var t readableTarget
					if err := v.Decode(&t); err != nil {
						return domain.DomainDiagram{}, err
					}
					if err := addArrow(sourceLabel, handleLabel, t.To, t); err != nil {
						return domain.DomainDiagram{}, err
					}
				default:
					return domain.DomainDiagram{}, fmt.Errorf("flow[%s][%s]: unsupported value shape", sourceLabel, handleLabel)
				}
			}
		default:
			return domain.DomainDiagram{}, fmt.Errorf("flow[%s]: unsupported value shape", sourceLabel)
		}
	}

	for label, p := range doc.Persons {
		d.Persons = append(d.Persons, domain.DomainPerson{
			ID: "person-" + label, Label: label,
			LLMConfig: domain.PersonLLMConfig{
				Service: domain.LLMService(p.Service), Model: p.Model, APIKeyID: p.APIKeyID,
				SystemPrompt: p.SystemPrompt, Temperature: p.Temperature, MaxTokens: p.MaxTokens,
			},
		})
	}

	return d, nil
}
