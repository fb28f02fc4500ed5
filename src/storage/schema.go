package storage

import (
	"fmt"
	"strings"

	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
)

// SchemaDescriptor identifies an index by its label token plus an
// ordered list of property key tokens. Immutable after construction;
// equality is structural.
type SchemaDescriptor struct {
	label    common.TokenID
	propKeys []common.TokenID
}

func ForLabel(label common.TokenID, propKeys ...common.TokenID) SchemaDescriptor {
	keys := make([]common.TokenID, len(propKeys))
	copy(keys, propKeys)
	return SchemaDescriptor{label: label, propKeys: keys}
}

func (s SchemaDescriptor) Label() common.TokenID { return s.label }

func (s SchemaDescriptor) PropertyKeys() []common.TokenID {
	keys := make([]common.TokenID, len(s.propKeys))
	copy(keys, s.propKeys)
	return keys
}

func (s SchemaDescriptor) Equal(other SchemaDescriptor) bool {
	if s.label != other.label || len(s.propKeys) != len(other.propKeys) {
		return false
	}
	for i := range s.propKeys {
		if s.propKeys[i] != other.propKeys[i] {
			return false
		}
	}
	return true
}

// CanonicalID is a map-key friendly identity for the descriptor.
func (s SchemaDescriptor) CanonicalID() string {
	parts := make([]string, 0, len(s.propKeys)+1)
	parts = append(parts, fmt.Sprintf("l%d", s.label))
	for _, k := range s.propKeys {
		parts = append(parts, fmt.Sprintf("p%d", k))
	}
	return strings.Join(parts, ":")
}

func (s SchemaDescriptor) String() string {
	return fmt.Sprintf(":label[%d](%v)", s.label, s.propKeys)
}
