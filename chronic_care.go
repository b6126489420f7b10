package main

import (
	"slices"
	"time"
)

const (
	chronicLookbackDays     = 730
	examinationLookbackDays = 1095
)

// Display names of management and examination order codes
var orderCodeNames = map[string]string{
	"P1407C": "DM-新收",
	"P1408C": "DM-複診",
	"P1409C": "DM-年度",
	"P7001C": "DKD-複診",
	"P7002C": "DKD-年度",
	"P4301C": "CKD-新收",
	"P4302C": "CKD-複診",
	"P7501C": "代謝症候群-新收",
	"P7502C": "代謝症候群-追蹤",
	"P7503C": "代謝症候群-年度",
	"19001C": "腹部超音波（初次）",
	"19009C": "腹部超音波（追蹤）",
	"19012C": "甲狀腺超音波",
	"15021C": "細針穿刺",
	"17003C": "肺功能檢查",
	"17006C": "肺功能檢查（吸藥）",
	"21004C": "尿流速檢查",
}

func orderCodeName(code string) string {
	if name, ok := orderCodeNames[code]; ok {
		return name
	}
	return code
}

// ChronicProgram is a chronic disease management program. Each code carries
// the number of days before the next management visit can be billed.
type ChronicProgram struct {
	ID      string
	Name    string
	Offsets map[string]int
}

// ChronicRecord is one management order. Only the most recent record of a
// program carries a next executable date.
type ChronicRecord struct {
	Date               string `json:"date"`
	Code               string `json:"code"`
	CodeName           string `json:"codeName"`
	NextExecutableDate string `json:"nextExecutableDate,omitempty"`
	IsExecutable       bool   `json:"isExecutable"`
}

type ChronicProgramStatus struct {
	ProgramID  string          `json:"programId"`
	Name       string          `json:"name"`
	Records    []ChronicRecord `json:"records"`
	ReasonCode string          `json:"reasonCode,omitempty"`
}

var chronicPrograms = []ChronicProgram{
	{
		ID:   "diabetes",
		Name: "糖尿病",
		Offsets: map[string]int{
			"P1407C": 50,
			"P1408C": 71,
			"P1409C": 71,
			"P7001C": 71,
			"P7002C": 71,
		},
	},
	{
		ID:   "kidney",
		Name: "腎臟病",
		Offsets: map[string]int{
			"P4301C": 77,
			"P4302C": 161,
		},
	},
	{
		ID:   "metabolic",
		Name: "代謝症候群",
		Offsets: map[string]int{
			"P7501C": 71,
			"P7502C": 71,
			"P7503C": 71,
		},
	},
}

// Evaluate lists the program's orders from the last two years, newest first.
// A nil orders slice means the order ledger could not be read.
func (p ChronicProgram) Evaluate(orders []ClinicalEvent, now time.Time) ChronicProgramStatus {
	status := ChronicProgramStatus{
		ProgramID: p.ID,
		Name:      p.Name,
		Records:   []ChronicRecord{},
	}
	if orders == nil {
		status.ReasonCode = ReasonInsufficientData
		return status
	}

	since := rocDaysAgo(now, chronicLookbackDays)
	var matched []ClinicalEvent
	for _, order := range filterSince(orders, since, func(e ClinicalEvent) string { return e.Date }) {
		if _, ok := p.Offsets[order.Code]; ok {
			matched = append(matched, order)
		}
	}
	sortEvents(matched, eventKey, false)

	today := todayROC(now)
	for i, order := range matched {
		record := ChronicRecord{
			Date:     order.Date,
			Code:     order.Code,
			CodeName: orderCodeName(order.Code),
		}
		if i == 0 {
			if next, ok := addDays(order.Date, p.Offsets[order.Code]); ok {
				record.NextExecutableDate = next
				record.IsExecutable = next <= today
			}
		}
		status.Records = append(status.Records, record)
	}

	if len(status.Records) == 0 {
		status.ReasonCode = ReasonNoPriorEvent
	}
	return status
}

// ExamFamily is a periodic examination with a follow-up interval in either
// calendar months or years.
type ExamFamily struct {
	ID             string
	Name           string
	Codes          []string
	IntervalMonths int
	IntervalYears  int
	HasReport      bool
}

type ExaminationRecord struct {
	FamilyID         string `json:"familyId"`
	Name             string `json:"name"`
	Code             string `json:"code"`
	CodeName         string `json:"codeName"`
	Date             string `json:"date"`
	NextFollowUpDate string `json:"nextFollowUpDate"`
	IsDue            bool   `json:"isDue"`
	ReportContent    string `json:"reportContent"`
}

var examFamilies = []ExamFamily{
	{ID: "abdomen", Name: "腹部超音波", Codes: []string{"19001C", "19009C"}, IntervalMonths: 6, HasReport: true},
	{ID: "thyroid", Name: "甲狀腺超音波", Codes: []string{"19012C"}, IntervalMonths: 6, HasReport: true},
	{ID: "puncture", Name: "細針穿刺", Codes: []string{"15021C"}, IntervalYears: 1},
	{ID: "lung", Name: "肺功能檢查", Codes: []string{"17003C", "17006C"}, IntervalMonths: 6, HasReport: true},
	{ID: "urine", Name: "尿流速檢查", Codes: []string{"21004C"}, IntervalYears: 1},
}

// Evaluate finds the latest examination within three years and its next
// follow-up date. Returns nil when there is none.
func (f ExamFamily) Evaluate(orders []ClinicalEvent, reports []Record, now time.Time) *ExaminationRecord {
	since := rocDaysAgo(now, examinationLookbackDays)

	var latest *ClinicalEvent
	for _, order := range filterSince(orders, since, func(e ClinicalEvent) string { return e.Date }) {
		if !slices.Contains(f.Codes, order.Code) {
			continue
		}
		if latest == nil || eventKey(order) > eventKey(*latest) {
			o := order
			latest = &o
		}
	}
	if latest == nil {
		return nil
	}

	var (
		next string
		ok   bool
	)
	if f.IntervalMonths > 0 {
		next, ok = addMonths(latest.Date, f.IntervalMonths)
	} else {
		next, ok = addDays(latest.Date, f.IntervalYears*365)
	}

	record := &ExaminationRecord{
		FamilyID: f.ID,
		Name:     f.Name,
		Code:     latest.Code,
		CodeName: orderCodeName(latest.Code),
		Date:     latest.Date,
	}
	if ok {
		record.NextFollowUpDate = next
		record.IsDue = next <= todayROC(now)
	}
	if f.HasReport {
		record.ReportContent = findReport(reports, latest.PatientKey, latest.Date)
	}
	return record
}

// findReport joins report text on an exact (patient, date) match.
func findReport(reports []Record, patientKey, date string) string {
	for _, report := range reports {
		if report.Get("KCSTMR") != patientKey {
			continue
		}
		if reportDate, ok := normalizeDate(report.Get("FDATE")); ok && reportDate == date {
			return report.Get("FTEXT")
		}
	}
	return ""
}
