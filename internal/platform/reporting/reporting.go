// Package reporting runs the predefined operational measures over emergency
// alerts and dispatch notifications and exports alerts as a spreadsheet.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/carelink/carelink/internal/platform/db"
)

var ErrMeasureNotFound = errors.New("measure not found")

// MeasureDefinition defines a reporting measure with its SQL query. Every
// query takes the range start as $1 and the exclusive range end as $2.
type MeasureDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SQL         string `json:"-"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	From        time.Time                `json:"from"`
	To          time.Time                `json:"to"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
}

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "alerts-by-status",
		Name:        "Alerts by Status",
		Description: "Emergency alerts raised in the range, grouped by current status",
		SQL: `SELECT status, COUNT(*) AS total FROM emergency_alerts
			WHERE created_at >= $1 AND created_at < $2 GROUP BY status ORDER BY total DESC, status`,
	},
	{
		ID:          "alerts-by-severity",
		Name:        "Alerts by Severity",
		Description: "Emergency alerts grouped by severity level, including how many used the default severity",
		SQL: `SELECT severity_level, COUNT(*) AS total,
				COUNT(*) FILTER (WHERE severity_defaulted) AS defaulted
			FROM emergency_alerts WHERE created_at >= $1 AND created_at < $2
			GROUP BY severity_level ORDER BY total DESC, severity_level`,
	},
	{
		ID:          "alerts-by-type",
		Name:        "Alerts by Emergency Type",
		Description: "Emergency alerts grouped by emergency type",
		SQL: `SELECT emergency_type, COUNT(*) AS total FROM emergency_alerts
			WHERE created_at >= $1 AND created_at < $2 GROUP BY emergency_type ORDER BY total DESC, emergency_type`,
	},
	{
		ID:          "time-to-first-response",
		Name:        "Time to First Response",
		Description: "Mean and worst minutes between an alert being raised and the first hospital response",
		SQL: `SELECT COUNT(*) AS responded,
				COALESCE(AVG(EXTRACT(EPOCH FROM (h.first_at - a.created_at)) / 60), 0)::float8 AS mean_minutes,
				COALESCE(MAX(EXTRACT(EPOCH FROM (h.first_at - a.created_at)) / 60), 0)::float8 AS max_minutes
			FROM emergency_alerts a
			JOIN (SELECT alert_id, MIN(changed_at) AS first_at FROM alert_status_history
				WHERE to_status = 'responded' GROUP BY alert_id) h ON h.alert_id = a.id
			WHERE a.created_at >= $1 AND a.created_at < $2`,
	},
	{
		ID:          "hospital-dispatch-counts",
		Name:        "Hospital Dispatch Counts",
		Description: "Dispatch notifications per hospital and how many were delivered or read",
		SQL: `SELECT h.id::text AS hospital_id, h.name, COUNT(n.id) AS dispatched,
				COUNT(n.id) FILTER (WHERE n.status IN ('delivered', 'read')) AS delivered,
				COUNT(n.id) FILTER (WHERE n.status = 'read') AS read
			FROM notifications n JOIN hospitals h ON h.id = n.hospital_id
			WHERE n.kind = 'emergency_dispatch' AND n.created_at >= $1 AND n.created_at < $2
			GROUP BY h.id, h.name ORDER BY dispatched DESC, h.name`,
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// AlertRow is one line of the alert export.
type AlertRow struct {
	ID                  string
	CreatedAt           time.Time
	PatientName         string
	PatientPhone        string
	EmergencyType       string
	Severity            string
	SeverityDefaulted   bool
	Status              string
	Address             string
	Latitude            float64
	Longitude           float64
	RespondingHospitals int
	AmbulanceDispatched bool
	ETAMinutes          *int
	UpdatedAt           time.Time
}

// Source runs reporting queries.
type Source interface {
	Rows(ctx context.Context, sql string, from, to time.Time) ([]map[string]interface{}, error)
	Alerts(ctx context.Context, from, to time.Time) ([]AlertRow, error)
}

// PGSource reads from Postgres.
type PGSource struct {
	conn db.Querier
}

func NewPGSource(conn db.Querier) *PGSource {
	return &PGSource{conn: conn}
}

func (s *PGSource) Rows(ctx context.Context, sql string, from, to time.Time) ([]map[string]interface{}, error) {
	rows, err := s.conn.Query(ctx, sql, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

const alertExportSQL = `SELECT id::text, created_at, patient_name, patient_phone, emergency_type,
	severity_level, severity_defaulted, status, address, latitude, longitude,
	cardinality(responding_hospitals), ambulance_dispatched, eta_minutes, updated_at
	FROM emergency_alerts WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at`

func (s *PGSource) Alerts(ctx context.Context, from, to time.Time) ([]AlertRow, error) {
	rows, err := s.conn.Query(ctx, alertExportSQL, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (AlertRow, error) {
		var a AlertRow
		err := row.Scan(&a.ID, &a.CreatedAt, &a.PatientName, &a.PatientPhone, &a.EmergencyType,
			&a.Severity, &a.SeverityDefaulted, &a.Status, &a.Address, &a.Latitude, &a.Longitude,
			&a.RespondingHospitals, &a.AmbulanceDispatched, &a.ETAMinutes, &a.UpdatedAt)
		return a, err
	})
}

// Service evaluates measures and builds exports.
type Service struct {
	source Source
	now    func() time.Time
}

func NewService(source Source) *Service {
	return &Service{source: source, now: time.Now}
}

// Evaluate runs measure id over [from, to).
func (s *Service) Evaluate(ctx context.Context, id string, from, to time.Time) (*MeasureReport, error) {
	m := FindMeasure(id)
	if m == nil {
		return nil, ErrMeasureNotFound
	}
	results, err := s.source.Rows(ctx, m.SQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", id, err)
	}
	return &MeasureReport{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		From:        from,
		To:          to,
		GeneratedAt: s.now().UTC(),
		Results:     results,
	}, nil
}

// ExportAlerts renders the alerts raised in [from, to) as an xlsx workbook.
func (s *Service) ExportAlerts(ctx context.Context, from, to time.Time) ([]byte, error) {
	alerts, err := s.source.Alerts(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load alerts: %w", err)
	}
	return buildAlertWorkbook(alerts, from, to)
}
