package geminiapi

import "github.com/lukacf/mcp-the-force-core/pkg/models"

// thinkingBudgets maps abstract reasoning effort to a model-specific
// thinking_budget token count. A zero entry means "automatic", which the
// API expects as the -1 sentinel.
var thinkingBudgets = map[string]map[models.ReasoningEffort]int32{
	"gemini-2.5-pro": {
		models.EffortLow:    4096,
		models.EffortMedium: 16384,
		models.EffortHigh:   32768,
		models.EffortXHigh:  32768,
	},
	"gemini-2.5-flash": {
		models.EffortLow:    1024,
		models.EffortMedium: 8192,
		models.EffortHigh:   24576,
		models.EffortXHigh:  24576,
	},
}

// ThinkingBudget resolves the thinking budget for model/effort. The second
// return is false when the model has no budget table. A mapped value of 0
// becomes -1, requesting automatic budgeting.
func ThinkingBudget(model string, effort models.ReasoningEffort) (int32, bool) {
	table, ok := thinkingBudgets[model]
	if !ok {
		return 0, false
	}
	budget, ok := table[effort]
	if !ok {
		budget = table[models.EffortMedium]
	}
	if budget == 0 {
		return -1, true
	}
	return budget, true
}
