package loadtest

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/reviewd-dev/reviewd/pkg/logger"
)

// Constants for random number generation.
const (
	percentDivisor = 100
)

// Language snippet templates. Each takes a unique marker so two
// generated snippets never collide by accident.
var snippetTemplates = map[string][]string{
	"go": {
		"package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(%q)\n}\n",
		"package worker\n\n// process handles %q.\nfunc process(items []string) int {\n\tn := 0\n\tfor range items {\n\t\tn++\n\t}\n\treturn n\n}\n",
		"package store\n\ntype record struct {\n\tkey string\n}\n\nfunc lookup(recs []record, key string) *record {\n\t// marker: %s\n\tfor i := range recs {\n\t\tif recs[i].key == key {\n\t\t\treturn &recs[i]\n\t\t}\n\t}\n\treturn nil\n}\n",
	},
	"python": {
		"def handler(event):\n    # marker: %s\n    return {\"ok\": True, \"event\": event}\n",
		"class Buffer:\n    \"\"\"marker: %s\"\"\"\n\n    def __init__(self):\n        self.items = []\n\n    def push(self, item):\n        self.items.append(item)\n",
	},
	"javascript": {
		"function debounce(fn, ms) {\n  // marker: %s\n  let t;\n  return (...args) => {\n    clearTimeout(t);\n    t = setTimeout(() => fn(...args), ms);\n  };\n}\n",
		"const parse = (raw) => {\n  // marker: %s\n  try {\n    return JSON.parse(raw);\n  } catch {\n    return null;\n  }\n};\n",
	},
	"rust": {
		"fn checksum(data: &[u8]) -> u32 {\n    // marker: %s\n    data.iter().fold(0u32, |acc, b| acc.wrapping_add(*b as u32))\n}\n",
	},
}

var languages = []string{"go", "python", "javascript", "rust"}

// randomInt returns a random integer in [0, n) using crypto/rand.
func randomInt(n int64) int64 {
	v, _ := rand.Int(rand.Reader, big.NewInt(n))
	return v.Int64()
}

// generateSubmissions creates the requested number of submissions. A
// configured percentage reuses the code of an earlier submission so the
// run exercises the content-addressable result cache.
func generateSubmissions(ctx context.Context, config *Config, stats *Stats) ([]Submission, error) {
	logger.Get().Info(ctx, "generating submissions",
		logger.Int("numSubmissions", config.NumSubmissions),
		logger.Int("duplicatePercent", config.DuplicatePercent))

	subs := make([]Submission, 0, config.NumSubmissions)
	for i := 0; i < config.NumSubmissions; i++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during generation: %w", ctx.Err())
		default:
		}

		// Reuse an earlier snippet with the configured probability.
		if len(subs) > 0 && randomInt(percentDivisor) < int64(config.DuplicatePercent) {
			subs = append(subs, subs[randomInt(int64(len(subs)))])
			continue
		}

		subs = append(subs, generateSingleSubmission())
	}

	stats.SubmissionsGenerated = len(subs)
	logger.Get().Info(ctx, "generated submissions successfully", logger.Int("count", len(subs)))

	return subs, nil
}

// generateSingleSubmission creates one unique submission.
func generateSingleSubmission() Submission {
	language := languages[randomInt(int64(len(languages)))]
	templates := snippetTemplates[language]
	template := templates[randomInt(int64(len(templates)))]

	// The uuid marker makes the snippet unique across runs.
	return Submission{
		Language: language,
		Code:     fmt.Sprintf(template, uuid.New().String()),
	}
}
