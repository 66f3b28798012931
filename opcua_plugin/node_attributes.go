package opcua_plugin

import (
	"context"
	"fmt"

	"github.com/gopcua/opcua/ua"
)

// attributeHandler describes how one attribute of a browsed node is applied
// to its tree entry.
type attributeHandler struct {
	handleOK          func(value *ua.Variant) // handleOK applies a good value
	ignoreInvalidAttr bool                    // ignoreInvalidAttr treats BadAttributeIdInvalid as absent
}

// handleAttributeStatus applies attr through handler. Bad statuses are
// returned so the caller can decide whether they matter.
func handleAttributeStatus(name string, attr *ua.DataValue, nodeID *ua.NodeID, handler attributeHandler) error {
	if attr == nil {
		return fmt.Errorf("attribute %s of %s is missing", name, nodeID)
	}

	switch {
	case isGood(attr.Status):
		if attr.Value != nil && handler.handleOK != nil {
			handler.handleOK(attr.Value)
		}
		return nil
	case attr.Status == ua.StatusBadAttributeIDInvalid && handler.ignoreInvalidAttr:
		return nil
	}
	return fmt.Errorf("attribute %s of %s: %w", name, nodeID, attr.Status)
}

// DataTypeLookup resolves the DataType node of a variable to its variant type.
type DataTypeLookup func(ctx context.Context, dataType *ua.NodeID) (ua.TypeID, error)

// readTreeEntry reads what the diagnostic tree shows of a node. Failures
// leave the affected fields empty; only the error of the first attribute
// read is returned.
func readTreeEntry(ctx context.Context, n NodeBrowser, lookup DataTypeLookup) (TreeEntry, error) {
	nodeID := n.ID()
	entry := TreeEntry{ID: nodeID}
	if nodeID != nil {
		entry.Namespace = nodeID.Namespace()
		entry.Identifier = nodeIdentifier(nodeID)
	}

	attrs, err := n.Attributes(ctx, ua.AttributeIDNodeClass, ua.AttributeIDDisplayName)
	if err != nil {
		return entry, err
	}
	if len(attrs) != 2 {
		return entry, fmt.Errorf("expected 2 attributes for %s, got %d", nodeID, len(attrs))
	}

	if err := handleAttributeStatus("NodeClass", attrs[0], nodeID, attributeHandler{
		handleOK: func(value *ua.Variant) {
			entry.NodeClass = ua.NodeClass(value.Int())
		},
	}); err != nil {
		return entry, err
	}

	_ = handleAttributeStatus("DisplayName", attrs[1], nodeID, attributeHandler{
		handleOK: func(value *ua.Variant) {
			if text, ok := value.Value().(*ua.LocalizedText); ok && text != nil {
				entry.DisplayName = text.Text
			}
		},
		ignoreInvalidAttr: true,
	})
	if entry.DisplayName == "" {
		if name, err := n.BrowseName(ctx); err == nil && name != nil {
			entry.DisplayName = name.Name
		}
	}

	if entry.NodeClass != ua.NodeClassVariable {
		return entry, nil
	}

	values, err := n.Attributes(ctx, ua.AttributeIDValue, ua.AttributeIDDataType)
	if err != nil || len(values) != 2 {
		return entry, nil
	}

	var valueType *ua.TypeID
	_ = handleAttributeStatus("Value", values[0], nodeID, attributeHandler{
		handleOK: func(value *ua.Variant) {
			if value.Type() != ua.TypeIDNull {
				t := value.Type()
				valueType = &t
			}
			entry.Value = value.Value()
		},
	})
	_ = handleAttributeStatus("DataType", values[1], nodeID, attributeHandler{
		handleOK: func(value *ua.Variant) {
			dataType, ok := value.Value().(*ua.NodeID)
			if !ok || dataType == nil {
				return
			}
			if t, ok := resolveDataType(ctx, dataType, lookup); ok {
				entry.VariantType = &t
			}
		},
		ignoreInvalidAttr: true,
	})

	// Servers that do not expose the DataType still show the type of the
	// current value.
	if entry.VariantType == nil {
		entry.VariantType = valueType
	}
	return entry, nil
}

func resolveDataType(ctx context.Context, dataType *ua.NodeID, lookup DataTypeLookup) (ua.TypeID, bool) {
	if t, ok := builtinVariantType(dataType); ok {
		return t, true
	}
	if lookup == nil {
		return 0, false
	}
	t, err := lookup(ctx, dataType)
	if err != nil {
		return 0, false
	}
	return t, true
}

// nodeIdentifier renders the identifier part of a node id with its type
// prefix, e.g. "i:85" or "s:Line1.Speed".
func nodeIdentifier(n *ua.NodeID) string {
	switch n.Type() {
	case ua.NodeIDTypeTwoByte, ua.NodeIDTypeFourByte, ua.NodeIDTypeNumeric:
		return fmt.Sprintf("i:%d", n.IntID())
	case ua.NodeIDTypeString:
		return "s:" + n.StringID()
	case ua.NodeIDTypeGUID:
		return "g:" + n.StringID()
	case ua.NodeIDTypeByteString:
		return "b:" + n.StringID()
	default:
		return n.String()
	}
}
