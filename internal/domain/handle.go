package domain

import "strings"

// handleDelimiter separates the node id from the label in a canonical
// handle identifier: "<node_id>:<label>".
const handleDelimiter = ":"

// customHandleLabels tracks labels minted by node types beyond the closed
// built-in set. Registered once at process init by node-type factories that
// need a handle label the compiler doesn't know about yet.
var customHandleLabels = map[HandleLabel]bool{
	HandleLabelDefault:   true,
	HandleLabelInput:     true,
	HandleLabelOutput:    true,
	HandleLabelCondTrue:  true,
	HandleLabelCondFalse: true,
	HandleLabelFirst:     true,
}

// RegisterHandleLabel allow-lists a custom label so ParseHandle accepts it.
func RegisterHandleLabel(label HandleLabel) {
	customHandleLabels[label] = true
}

// IsKnownHandleLabel reports whether label is in the closed set or was
// registered as a custom label by a node-type factory.
func IsKnownHandleLabel(label HandleLabel) bool {
	return customHandleLabels[label]
}

// ParseHandle splits a canonical handle id into its node id and label.
// Direction is not encoded in the id itself; it is inferred by the caller
// from whether the handle appears as an arrow's source or target.
func ParseHandle(handleID string) (nodeID string, label HandleLabel, err error) {
	idx := strings.LastIndex(handleID, handleDelimiter)
	if idx <= 0 || idx == len(handleID)-1 {
		return "", "", NewDomainError(ErrCodeInvalidInput,
			"malformed handle id: "+handleID, nil)
	}
	nodeID = handleID[:idx]
	label = HandleLabel(handleID[idx+1:])
	if !IsKnownHandleLabel(label) {
		return "", "", NewDomainError(ErrCodeInvalidInput,
			"unknown handle label \""+string(label)+"\" in handle id: "+handleID, nil)
	}
	return nodeID, label, nil
}

// BuildHandle constructs the canonical handle id for (nodeID, label).
// BuildHandle and ParseHandle round-trip: ParseHandle(BuildHandle(n, l)) == (n, l, nil).
func BuildHandle(nodeID string, label HandleLabel) string {
	return nodeID + handleDelimiter + string(label)
}

// DefaultHandles generates the deterministic handle set the compiler
// synthesizes for a node of the given type when a diagram omits explicit
// handle declarations.
func DefaultHandles(nodeID string, nodeType NodeType) []DomainHandle {
	var handles []DomainHandle

	switch nodeType {
	case NodeTypeStart:
		handles = append(handles, DomainHandle{
			ID: BuildHandle(nodeID, HandleLabelOutput), NodeID: nodeID,
			Label: HandleLabelOutput, Direction: HandleDirectionOutput,
		})
	case NodeTypeEndpoint:
		handles = append(handles, DomainHandle{
			ID: BuildHandle(nodeID, HandleLabelInput), NodeID: nodeID,
			Label: HandleLabelInput, Direction: HandleDirectionInput,
		})
	case NodeTypeCondition:
		handles = append(handles,
			DomainHandle{ID: BuildHandle(nodeID, HandleLabelInput), NodeID: nodeID,
				Label: HandleLabelInput, Direction: HandleDirectionInput},
			DomainHandle{ID: BuildHandle(nodeID, HandleLabelCondTrue), NodeID: nodeID,
				Label: HandleLabelCondTrue, Direction: HandleDirectionOutput},
			DomainHandle{ID: BuildHandle(nodeID, HandleLabelCondFalse), NodeID: nodeID,
				Label: HandleLabelCondFalse, Direction: HandleDirectionOutput},
		)
	case NodeTypePersonJob, NodeTypePersonBatchJob:
		handles = append(handles,
			DomainHandle{ID: BuildHandle(nodeID, HandleLabelInput), NodeID: nodeID,
				Label: HandleLabelInput, Direction: HandleDirectionInput},
			DomainHandle{ID: BuildHandle(nodeID, HandleLabelFirst), NodeID: nodeID,
				Label: HandleLabelFirst, Direction: HandleDirectionInput},
			DomainHandle{ID: BuildHandle(nodeID, HandleLabelOutput), NodeID: nodeID,
				Label: HandleLabelOutput, Direction: HandleDirectionOutput},
		)
	default:
		handles = append(handles,
			DomainHandle{ID: BuildHandle(nodeID, HandleLabelInput), NodeID: nodeID,
				Label: HandleLabelInput, Direction: HandleDirectionInput},
			DomainHandle{ID: BuildHandle(nodeID, HandleLabelOutput), NodeID: nodeID,
				Label: HandleLabelOutput, Direction: HandleDirectionOutput},
		)
	}

	return handles
}
