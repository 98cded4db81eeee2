package tds

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ParseFunc converts a raw column value into its Go representation.
type ParseFunc func(raw any) (any, error)

// TypeDescriptor names a SQL Server column type and its parser.
type TypeDescriptor struct {
	Name    string
	Aliases []string
	Parse   ParseFunc
}

// TypeRegistry keeps column decoding in sync with the manager.
// The manager refreshes it on construction and clears it on Close.
type TypeRegistry interface {
	Refresh(d TypeDescriptor)
	Clear()
}

// Decoder converts a raw column value using the parser registered for its
// SQL type. *ParserRegistry implements it.
type Decoder interface {
	Decode(typeName string, raw any) (any, error)
}

// Column is one value read from the server, tagged with its SQL type name.
type Column struct {
	Name  string
	Type  string
	Value any
}

// Inspector is implemented by links that can report facts about the
// server they are logged in to.
type Inspector interface {
	Inspect(ctx context.Context) ([]Column, error)
}

// ParserRegistry is an in-memory TypeRegistry keyed by upper-case type name.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type ParserRegistry struct {
	mu      sync.RWMutex
	parsers map[string]ParseFunc
}

// NewParserRegistry creates an empty registry.
func NewParserRegistry() *ParserRegistry {
	return &ParserRegistry{parsers: make(map[string]ParseFunc)}
}

// Refresh registers (or replaces) the parser for d and its aliases.
func (r *ParserRegistry) Refresh(d TypeDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range append([]string{d.Name}, d.Aliases...) {
		r.parsers[strings.ToUpper(name)] = d.Parse
	}
}

// Clear removes every parser.
func (r *ParserRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers = make(map[string]ParseFunc)
}

// Lookup returns the parser for a type name (case-insensitive).
func (r *ParserRegistry) Lookup(name string) (ParseFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[strings.ToUpper(name)]
	return p, ok
}

// Decode parses raw with the parser for typeName. Values of types with no
// registered parser are returned unchanged.
func (r *ParserRegistry) Decode(typeName string, raw any) (any, error) {
	parse, ok := r.Lookup(typeName)
	if !ok {
		return raw, nil
	}
	return parse(raw)
}

// Len returns the number of registered type names.
func (r *ParserRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.parsers)
}

// BuiltinTypes returns the SQL Server types whose driver representation
// needs converting.
func BuiltinTypes() []TypeDescriptor {
	return []TypeDescriptor{
		{Name: "DECIMAL", Aliases: []string{"NUMERIC", "MONEY", "SMALLMONEY"}, Parse: parseDecimal},
		{Name: "UNIQUEIDENTIFIER", Parse: parseUniqueIdentifier},
		{Name: "DATETIMEOFFSET", Aliases: []string{"DATETIME2", "DATETIME", "SMALLDATETIME", "DATE"}, Parse: parseTime},
		{Name: "BIT", Parse: parseBit},
	}
}

func parseDecimal(raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case decimal.Decimal:
		return v, nil
	case []byte:
		return decimal.NewFromString(string(v))
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	default:
		return nil, fmt.Errorf("decimal: unsupported value of type %T", raw)
	}
}

// uniqueIdentifierLen is the wire size of a UNIQUEIDENTIFIER.
const uniqueIdentifierLen = 16

// parseUniqueIdentifier handles SQL Server's mixed-endian GUID layout:
// the first three groups arrive little-endian.
func parseUniqueIdentifier(raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case uuid.UUID:
		return v, nil
	case string:
		return uuid.Parse(v)
	case []byte:
		if len(v) != uniqueIdentifierLen {
			return uuid.ParseBytes(v)
		}
		var b [uniqueIdentifierLen]byte
		copy(b[:], v)
		binary.BigEndian.PutUint32(b[0:4], binary.LittleEndian.Uint32(v[0:4]))
		binary.BigEndian.PutUint16(b[4:6], binary.LittleEndian.Uint16(v[4:6]))
		binary.BigEndian.PutUint16(b[6:8], binary.LittleEndian.Uint16(v[6:8]))
		return uuid.FromBytes(b[:])
	default:
		return nil, fmt.Errorf("uniqueidentifier: unsupported value of type %T", raw)
	}
}

func parseTime(raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return v, nil
	case string:
		return time.Parse(time.RFC3339Nano, v)
	case []byte:
		return time.Parse(time.RFC3339Nano, string(v))
	default:
		return nil, fmt.Errorf("datetime: unsupported value of type %T", raw)
	}
}

func parseBit(raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case []byte:
		return len(v) > 0 && v[0] != 0 && v[0] != '0', nil
	default:
		return nil, fmt.Errorf("bit: unsupported value of type %T", raw)
	}
}
