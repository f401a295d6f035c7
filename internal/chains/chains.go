package chains

import (
	"fmt"
	"math"
	"strings"
)

// NotDeclared is the priority reported for types absent from every chain.
const NotDeclared = math.MaxInt

// Link is one element of a dependency chain: an aggregate type and the name
// of the foreign-key field, inside the nested payload, that references the
// previous link.
type Link struct {
	Type    string
	IDField string
}

func (l Link) String() string {
	return l.Type + ":" + l.IDField
}

// Chain orders links from root (index 0) to leaf. Index i depends on i-1.
type Chain []Link

// Set holds independent chains. A type may appear in several of them.
type Set []Chain

// Position returns the index of eventType in the chain, or -1.
func (c Chain) Position(eventType string) int {
	eventType = strings.TrimSpace(eventType)
	for i, link := range c {
		if strings.EqualFold(link.Type, eventType) {
			return i
		}
	}
	return -1
}

// Dependency returns the link eventType depends on within this chain.
func (c Chain) Dependency(eventType string) (Link, bool) {
	pos := c.Position(eventType)
	if pos <= 0 {
		return Link{}, false
	}
	return c[pos-1], true
}

func (c Chain) String() string {
	parts := make([]string, len(c))
	for i, link := range c {
		parts[i] = link.String()
	}
	return strings.Join(parts, ">")
}

// GetPriority returns the first (chain, position) that declares eventType, or
// (NotDeclared, NotDeclared).
func GetPriority(eventType string, set Set) (int, int) {
	for ci, chain := range set {
		if pos := chain.Position(eventType); pos >= 0 {
			return ci, pos
		}
	}
	return NotDeclared, NotDeclared
}

// IsDependentEvent reports whether eventType sits past the root of any chain.
func IsDependentEvent(eventType string, set Set) bool {
	for _, chain := range set {
		if chain.Position(eventType) > 0 {
			return true
		}
	}
	return false
}

// GetDependency returns the link preceding eventType in the first chain where
// it is not the root.
func GetDependency(eventType string, set Set) (Link, bool) {
	for _, chain := range set {
		if dep, ok := chain.Dependency(eventType); ok {
			return dep, true
		}
	}
	return Link{}, false
}

// ShouldCacheEvent reports whether some other type depends on eventType, i.e.
// it is not the tail of every chain it appears in.
func ShouldCacheEvent(eventType string, set Set) bool {
	for _, chain := range set {
		pos := chain.Position(eventType)
		if pos >= 0 && pos < len(chain)-1 {
			return true
		}
	}
	return false
}

// DefaultDefinition mirrors the Address, Customer, Invoice, InvoiceLine hierarchy.
const DefaultDefinition = "Address:AddressId>Customer:AddressId;Customer:CustomerId>Invoice:CustomerId;Invoice:InvoiceId>InvoiceLine:InvoiceId"

func Default() Set {
	set, err := Parse(DefaultDefinition)
	if err != nil {
		panic(err)
	}
	return set
}

// Parse reads chains written as "Type:Field>Type:Field;Type:Field>...".
// Whitespace around separators is ignored; empty chains are skipped.
func Parse(definition string) (Set, error) {
	var set Set
	for ci, rawChain := range strings.Split(definition, ";") {
		rawChain = strings.TrimSpace(rawChain)
		if rawChain == "" {
			continue
		}
		var chain Chain
		seen := map[string]struct{}{}
		for li, rawLink := range strings.Split(rawChain, ">") {
			typ, field, ok := strings.Cut(strings.TrimSpace(rawLink), ":")
			typ, field = strings.TrimSpace(typ), strings.TrimSpace(field)
			if !ok || typ == "" || field == "" {
				return nil, fmt.Errorf("chain %d link %d: expected Type:Field, got %q", ci, li, rawLink)
			}
			key := strings.ToUpper(typ)
			if _, dup := seen[key]; dup {
				return nil, fmt.Errorf("chain %d: type %q appears twice", ci, typ)
			}
			seen[key] = struct{}{}
			chain = append(chain, Link{Type: typ, IDField: field})
		}
		if len(chain) < 2 {
			return nil, fmt.Errorf("chain %d: at least two links are required, got %q", ci, rawChain)
		}
		set = append(set, chain)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("no dependency chains declared")
	}
	return set, nil
}
