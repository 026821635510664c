package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/histfetch/pkg/batch"
	"github.com/Sternrassler/histfetch/pkg/request"
)

// Jobs is a batch job file.
//
// Example:
//
//	concurrency: 10
//	memoize: true
//	policy: drain
//	queries:
//	  - symbol: AAPL
//	    start: 2020-01-01
//	    end: 2020-12-31
type Jobs struct {
	// Concurrency overrides the concurrency cap when > 0.
	Concurrency int `yaml:"concurrency"`

	// Memoize enables memoization when set.
	Memoize *bool `yaml:"memoize"`

	// Policy is "fail-fast" (default) or "drain".
	Policy Policy `yaml:"policy"`

	// Queries are run in file order.
	Queries []JobQuery `yaml:"queries"`
}

// JobQuery is one table query.
type JobQuery struct {
	Symbol string `yaml:"symbol"`
	Start  Date   `yaml:"start"`
	End    Date   `yaml:"end"`
}

// Date wraps request.Date for YAML unmarshalling. Any layout accepted by
// request.ParseDate is allowed.
type Date request.Date

// UnmarshalYAML implements yaml.Unmarshaler for Date.
func (d *Date) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: date must be a scalar", node.Line)
	}
	parsed, err := request.ParseDate(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Date(parsed)
	return nil
}

// Date returns the underlying request.Date value.
func (d Date) Date() request.Date {
	return request.Date(d)
}

// Policy wraps batch.Policy for YAML unmarshalling.
type Policy batch.Policy

// UnmarshalYAML implements yaml.Unmarshaler for Policy.
func (p *Policy) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := batch.ParsePolicy(s)
	if err != nil {
		return err
	}
	*p = Policy(parsed)
	return nil
}

// Policy returns the underlying batch.Policy value.
func (p Policy) Policy() batch.Policy {
	return batch.Policy(p)
}

// LoadJobs reads and validates a job file.
func LoadJobs(path string) (*Jobs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	return ParseJobs(data)
}

// ParseJobs parses and validates job file contents.
func ParseJobs(data []byte) (*Jobs, error) {
	var jobs Jobs
	if err := yaml.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parse job file: %w", err)
	}
	if err := jobs.Validate(); err != nil {
		return nil, err
	}
	return &jobs, nil
}

// Validate checks the job file for missing or inconsistent fields.
func (j *Jobs) Validate() error {
	var errs []error
	if j.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency must be >= 0 (got %d)", j.Concurrency))
	}
	if len(j.Queries) == 0 {
		errs = append(errs, errors.New("no queries defined"))
	}
	for i := range j.Queries {
		q := &j.Queries[i]
		q.Symbol = strings.TrimSpace(q.Symbol)
		if q.Symbol == "" {
			errs = append(errs, fmt.Errorf("queries[%d]: symbol is required", i))
		}
		if q.Start.Date().IsZero() {
			errs = append(errs, fmt.Errorf("queries[%d]: start is required", i))
		}
		if q.End.Date().IsZero() {
			errs = append(errs, fmt.Errorf("queries[%d]: end is required", i))
		}
	}
	return multierr.Combine(errs...)
}

// FileName returns the output file name for q.
func (q JobQuery) FileName() string {
	return fmt.Sprintf("%s_%s_%s.csv", sanitize(q.Symbol), q.Start.Date(), q.End.Date())
}

// sanitize replaces characters that are unsafe in file names.
func sanitize(symbol string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, symbol)
}
