// Package mccmnc resolves the numeric operator reported by AT+COPS to a
// network name.
package mccmnc

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Operator is one entry of mcc_mnc.json.
type Operator struct {
	MCC         string `json:"mcc"`
	MNC         string `json:"mnc"`
	ISO         string `json:"iso"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	Name        string `json:"name"`
}

// Table indexes operators by MCC followed by MNC.
type Table struct {
	byPLMN map[string]Operator
}

// NewTable indexes ops. A later entry for the same code wins.
func NewTable(ops []Operator) *Table {
	t := &Table{byPLMN: make(map[string]Operator, len(ops))}
	for _, op := range ops {
		t.byPLMN[op.MCC+op.MNC] = op
	}
	return t
}

// Lookup finds the operator for a five or six digit PLMN code.
func (t *Table) Lookup(plmn string) (Operator, bool) {
	if t == nil || (len(plmn) != 5 && len(plmn) != 6) {
		return Operator{}, false
	}
	op, ok := t.byPLMN[plmn]
	return op, ok
}

var (
	mu      sync.RWMutex
	current *Table
)

// LoadOperators reads mcc_mnc.json and makes it the table used by Name.
func LoadOperators(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var ops []Operator
	if err := json.Unmarshal(b, &ops); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	SetTable(NewTable(ops))
	return nil
}

func SetTable(t *Table) {
	mu.Lock()
	defer mu.Unlock()
	current = t
}

// Name returns the operator name for plmn, or "" when it is unknown or no
// table is loaded.
func Name(plmn string) string {
	mu.RLock()
	defer mu.RUnlock()
	op, _ := current.Lookup(plmn)
	return op.Name
}
