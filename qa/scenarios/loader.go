package scenarios

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/orderdispatch/core/dispatch"
)

// OrderLineDef is an order line of the scenario order.
type OrderLineDef struct {
	Ref      string `yaml:"ref"`
	Product  string `yaml:"product"`
	Quantity string `yaml:"quantity"`
	UoM      string `yaml:"uom,omitempty"`
	Price    string `yaml:"price,omitempty"`
}

// OrderDef describes the dispatch order every scenario starts from.
type OrderDef struct {
	Stakeholders []string       `yaml:"stakeholders"`
	Lines        []OrderLineDef `yaml:"lines"`
}

// Step is one engine operation. Ref names the dispatch line created by a
// create_line step; Line refers to it in later steps.
type Step struct {
	Action      string `yaml:"action"`
	Ref         string `yaml:"ref,omitempty"`
	Line        string `yaml:"line,omitempty"`
	OrderLine   string `yaml:"order_line,omitempty"`
	Quantity    string `yaml:"quantity,omitempty"`
	UoM         string `yaml:"uom,omitempty"`
	Stakeholder string `yaml:"stakeholder,omitempty"`
	Address     string `yaml:"address,omitempty"`
	Date        string `yaml:"date,omitempty"`
	// Shipment is the index, in reference order, of the shipment a
	// shipment_state step applies to.
	Shipment int    `yaml:"shipment,omitempty"`
	State    string `yaml:"state,omitempty"`
	// ExpectError is the error kind the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// LineQuantities are the expected rollups of an order line.
type LineQuantities struct {
	Dispatched string `yaml:"dispatched,omitempty"`
	Remaining  string `yaml:"remaining,omitempty"`
}

// ShipmentsExpected describes the shipments of the header.
type ShipmentsExpected struct {
	Count int `yaml:"count"`
	// Moves lists move counts per shipment, compared sorted.
	Moves []int `yaml:"moves,omitempty"`
	// Days lists local scheduled days (YYYY-MM-DD), compared sorted.
	Days []string `yaml:"days,omitempty"`
	Hour *int     `yaml:"hour,omitempty"`
}

// Expected holds the final assertions of a scenario.
type Expected struct {
	HeaderState string                    `yaml:"header_state,omitempty"`
	Shipments   *ShipmentsExpected        `yaml:"shipments,omitempty"`
	OrderLines  map[string]LineQuantities `yaml:"order_lines,omitempty"`
	Lines       *int                      `yaml:"lines,omitempty"`
	Rejections  *int                      `yaml:"rejections,omitempty"`
}

// Scenario is a scripted dispatch session with its expected outcome.
type Scenario struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Timezone    string   `yaml:"timezone,omitempty"`
	Order       OrderDef `yaml:"order"`
	Steps       []Step   `yaml:"steps"`
	Expected    Expected `yaml:"expected"`
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &sc, nil
}

// LoadDir reads every *.yaml scenario of dir sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	out := make([]*Scenario, 0, len(files))
	for _, f := range files {
		sc, err := Load(f)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

func (sc *Scenario) validate() error {
	if sc.Name == "" {
		return fmt.Errorf("scenario has no name")
	}
	if len(sc.Order.Lines) == 0 {
		return fmt.Errorf("scenario %s: order has no lines", sc.Name)
	}
	refs := map[string]bool{}
	for _, l := range sc.Order.Lines {
		if l.Ref == "" || refs[l.Ref] {
			return fmt.Errorf("scenario %s: order line ref %q missing or duplicated", sc.Name, l.Ref)
		}
		refs[l.Ref] = true
	}
	for i, st := range sc.Steps {
		if _, ok := actions[st.Action]; !ok {
			return fmt.Errorf("scenario %s: step %d: unknown action %q", sc.Name, i, st.Action)
		}
		if st.Date != "" {
			if _, err := time.Parse(time.DateOnly, st.Date); err != nil {
				return fmt.Errorf("scenario %s: step %d: date: %w", sc.Name, i, err)
			}
		}
		if st.ExpectError != "" && !knownKind(st.ExpectError) {
			return fmt.Errorf("scenario %s: step %d: unknown error kind %q", sc.Name, i, st.ExpectError)
		}
	}
	return nil
}

func knownKind(s string) bool {
	for k := dispatch.KindSystem; k <= dispatch.KindConflict; k++ {
		if k.String() == s {
			return true
		}
	}
	return false
}
