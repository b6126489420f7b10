package main

import (
	"context"

	"go.elastic.co/apm"
)

const (
	maxAppointments = 10
)

// AppointmentRecord is one booking from the appointment ledger.
type AppointmentRecord struct {
	Date    string `json:"date"`
	Session string `json:"session"`
	Number  string `json:"number"`
}

func (q *PatientQuery) getAppointments(ctx context.Context) error {
	// Create span
	span, ctx := apm.StartSpan(ctx, "Get and Parse Data", "Appointments")
	defer span.End()

	records, err := q.patientRows(ctx, tableAppointments)
	if err != nil {
		return err
	}

	// Newest booking first, then session, then booking number
	sortEvents(records, func(r Record) string {
		return r.Get("TBKDT") + "|" + r.Get("TSTS") + "|" + r.Get("TARTIME")
	}, false)

	appointments := []AppointmentRecord{}
	for _, r := range records {
		if len(appointments) == maxAppointments {
			break
		}
		appointments = append(appointments, AppointmentRecord{
			Date:    r.Get("TBKDT"),
			Session: r.Get("TSTS"),
			Number:  r.Get("TARTIME"),
		})
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.Data.Appointments = appointments

	return nil
}
