package sigma

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is used as argument to creating a new ruleset
type Config struct {
	// root directory for recursive rule search
	// rules must be readable files with "yml" suffix
	Directory []string
	// by default, a rule parse fail will simply increment Ruleset.Failed counter when failing to
	// parse yaml or rule AST
	// this parameter will cause an early error return instead
	FailOnRuleParse, FailOnYamlParse bool
	// by default, we will collapse whitespace for both rules and data of non-regex rules and non-regex compared data
	//setthig this to true turns that behavior off
	NoCollapseWS bool
	// ReplaceDuplicateIDs controls what happens when two rule files declare
	// the same rule ID. When true the later rule replaces the earlier one;
	// when false (the zero value) the later rule is skipped and counted against
	// Unsupported. Either way the collision is logged once.
	ReplaceDuplicateIDs bool
	// PlaceholderPath enables placeholder substitution when non-empty. The
	// reload interval is started separately via WatchPlaceholders, which
	// needs a caller-owned context to bind its background goroutine's
	// lifetime to.
	PlaceholderPath string

	Logger logrus.FieldLogger
}

func (c Config) validate() error {
	if c.Directory == nil || len(c.Directory) == 0 {
		return fmt.Errorf("missing root directory for sigma rules")
	}
	for _, dir := range c.Directory {
		info, err := os.Stat(dir)
		if os.IsNotExist(err) {
			return fmt.Errorf("%s does not exist", dir)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
	}
	return nil
}

// Ruleset is a collection of compiled rule trees
type Ruleset struct {
	mu *sync.RWMutex

	Rules []*Tree
	root  []string

	byProduct map[string][]*Tree

	placeholders *placeholderHandle

	Total, Ok, Failed, Unsupported int
	evalErrors                     int64

	log logrus.FieldLogger
}

// NewRuleset instantiates a Ruleset object
func NewRuleset(c Config) (*Ruleset, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	log := c.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	files, err := NewRuleFileList(c.Directory)
	if err != nil {
		return nil, err
	}
	var fail, unsupp int
	rules, err := NewRuleList(files, !c.FailOnYamlParse, c.NoCollapseWS)
	if err != nil {
		switch e := err.(type) {
		case ErrBulkParseYaml:
			fail += len(e.Errs)
			if c.FailOnYamlParse {
				return nil, e
			}
		default:
			return nil, err
		}
	}

	set := make([]*Tree, 0, len(rules))
	seen := make(map[string]int)
loop:
	for _, raw := range rules {
		tree, err := NewTree(raw)
		if err != nil {
			switch err.(type) {
			case ErrUnsupportedToken, *ErrUnsupportedToken:
				unsupp++
			default:
				fail++
				if c.FailOnRuleParse {
					return nil, fmt.Errorf("%s: %w", raw.Path, err)
				}
			}
			continue loop
		}
		if tree.Rule.ID != "" {
			if idx, ok := seen[tree.Rule.ID]; ok {
				log.WithFields(logrus.Fields{
					"id":   tree.Rule.ID,
					"path": raw.Path,
				}).Warn("duplicate rule id")
				if c.ReplaceDuplicateIDs {
					set[idx] = tree
				} else {
					unsupp++
				}
				continue loop
			}
			seen[tree.Rule.ID] = len(set)
		}
		set = append(set, tree)
	}

	byProduct := make(map[string][]*Tree)
	for _, t := range set {
		if t.Rule == nil {
			continue
		}
		byProduct[t.Rule.Logsource.Product] = append(byProduct[t.Rule.Logsource.Product], t)
	}

	rs := &Ruleset{
		mu:          &sync.RWMutex{},
		root:        c.Directory,
		Rules:       set,
		byProduct:   byProduct,
		Failed:      fail,
		Ok:          len(set),
		Unsupported: unsupp,
		Total:       len(files),
		log:         log,
	}

	if c.PlaceholderPath != "" {
		ph := newPlaceholderHandle(c.PlaceholderPath)
		if err := ph.load(); err != nil {
			return nil, fmt.Errorf("failed to load placeholders: %w", err)
		}
		rs.placeholders = ph
		updateRulesetPlaceholders(rs)
	}

	return rs, nil
}

// WatchPlaceholders starts a background reload loop for the placeholder
// file, replaying substitution across every rule tree after every reload
// attempt, whether or not it succeeded. No-op if the ruleset was built
// without a PlaceholderPath.
func (r *Ruleset) WatchPlaceholders(ctx context.Context, interval time.Duration, errFn func(error)) error {
	if r.placeholders == nil {
		return nil
	}
	return r.placeholders.runLoader(ctx, interval, func(err error) {
		if errFn != nil {
			errFn(err)
		}
		updateRulesetPlaceholders(r)
	})
}

// ByProduct returns every compiled tree whose logsource.product field
// matches product, letting a caller pre-filter the ruleset by an event's log
// source before touching the matcher layer at all
func (r *Ruleset) ByProduct(product string) []*Tree {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byProduct[product]
}

// Stats2 is a point-in-time snapshot of ruleset load and evaluation counters
type Stats2 struct {
	Total, Ok, Failed, Unsupported int
	EvalErrors                     int64
}

// Snapshot returns the current load and evaluation counters
func (r *Ruleset) Snapshot() Stats2 {
	return Stats2{
		Total:       r.Total,
		Ok:          r.Ok,
		Failed:      r.Failed,
		Unsupported: r.Unsupported,
		EvalErrors:  atomic.LoadInt64(&r.evalErrors),
	}
}

// EvalAll evaluates every compiled rule tree against e. Rules are evaluated
// concurrently across a worker pool bounded by GOMAXPROCS, since each tree's
// evaluation reads only its own immutable state and the event itself,
// sharing no mutable state with its siblings. Every rule contributes a
// Result, including Matched=false/Applicable=false ones, so a caller can
// tell "condition evaluated false" apart from "this event didn't carry the
// fields the rule needs" without re-running anything.
func (r *Ruleset) EvalAll(e Event) (Results, bool) {
	r.mu.RLock()
	rules := r.Rules
	r.mu.RUnlock()

	if len(rules) == 0 {
		return nil, false
	}

	results := make([]*Result, len(rules))
	workers := runtime.GOMAXPROCS(0)
	if workers > len(rules) {
		workers = len(rules)
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				func() {
					defer func() {
						if rec := recover(); rec != nil {
							atomic.AddInt64(&r.evalErrors, 1)
						}
					}()
					results[i] = rules[i].Eval(e)
				}()
			}
		}()
	}
	for i := range rules {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	out := make(Results, 0, len(rules))
	anyMatch := false
	for _, res := range results {
		if res == nil {
			continue
		}
		out = append(out, *res)
		if res.Matched {
			anyMatch = true
		}
	}
	return out, anyMatch
}
