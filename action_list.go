package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ActionItem is one entry of the prioritized action list. Lower priority
// numbers are more urgent.
type ActionItem struct {
	Priority int    `json:"priority"`
	Color    string `json:"color"`
	Title    string `json:"title"`
	Message  string `json:"message"`
}

// buildActionList scans the latest lab values and contact data for items
// needing follow-up, most urgent first.
func buildActionList(patient *PatientRecord, labs *WideRow, cfg RulesConfig) []ActionItem {
	actions := []ActionItem{}

	// Glycemic control
	if value, date, ok := labs.Number(cfg.HbA1cItem); ok && value >= cfg.HbA1cModerate {
		action := ActionItem{
			Priority: 2,
			Color:    "orange",
			Title:    "需安排糖尿病衛教",
			Message:  fmt.Sprintf("HBA1C：%s%%（檢驗日：%s）", strconv.FormatFloat(value, 'f', -1, 64), date),
		}
		if value >= cfg.HbA1cHigh {
			action.Priority = 1
			action.Color = "red"
		}
		actions = append(actions, action)
	}

	// Contact details
	if patient != nil {
		var missing []string
		if patient.MobilePhone == "" {
			missing = append(missing, "手機")
		}
		if patient.Address == "" {
			missing = append(missing, "地址")
		}
		if len(missing) > 0 {
			actions = append(actions, ActionItem{
				Priority: 5,
				Color:    "orange",
				Title:    "聯絡資料不完整",
				Message:  "缺少：" + strings.Join(missing, "、") + "，請協助病患補填",
			})
		}
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority < actions[j].Priority
	})

	if cfg.MaxActionItems > 0 && len(actions) > cfg.MaxActionItems {
		actions = actions[:cfg.MaxActionItems]
	}
	return actions
}
