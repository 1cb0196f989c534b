package orquesta

import "github.com/orquesta/orquesta/id"

// ID is the primary identifier type for all Orquesta entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
