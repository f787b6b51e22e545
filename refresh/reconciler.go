package refresh

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/treasury_backend/models"
	"bitbucket.org/mmdatafocus/treasury_backend/odoo"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReconcileStats summarizes one reconciliation pass for progress/telemetry.
type ReconcileStats struct {
	RecordsFetched     int
	MovementsDeleted   int
	ExceptionsDeleted  int
	MovementsInserted  int
	ExceptionsInserted int
	DuplicatesDropped  int
}

// RecordsProcessed is the count reported upward as the job's throughput.
func (s ReconcileStats) RecordsProcessed() int {
	return s.MovementsInserted + s.ExceptionsInserted
}

// reconciliation is the classified row set for one source, ready to apply.
type reconciliation struct {
	movements  []models.Movement
	exceptions []models.Exception
	companies  map[int]string
	duplicates int
}

// buildReconciliation classifies every fetched record into insert-ready rows.
// Within one batch the first occurrence of a dedup key wins; later ones are
// dropped. Dropping is silent on purpose: the batch is the full upstream
// state, so a same-batch duplicate is upstream reference reuse, not data loss.
func buildReconciliation(rules SourceRules, records []odoo.AccountMove, today time.Time, link func(int) string) reconciliation {
	out := reconciliation{companies: make(map[int]string)}
	seen := make(map[DedupKey]bool, len(records))

	for _, rec := range records {
		result := Classify(rec, rules, today)
		if result.Movement == nil && result.Exception == nil {
			continue
		}
		if seen[result.Key] {
			out.duplicates++
			continue
		}
		seen[result.Key] = true

		odooLink := ""
		if link != nil {
			odooLink = link(rec.ID)
		}

		if m := result.Movement; m != nil {
			out.companies[m.CompanyID] = m.CompanyName
			out.movements = append(out.movements, models.Movement{
				CompanyId:       m.CompanyID,
				Category:        m.Category,
				Type:            rules.Name,
				Amount:          m.Amount,
				Sign:            m.Sign,
				MovementDate:    m.Date,
				ReferenceType:   m.ReferenceType,
				Reference:       m.Reference,
				ReferenceStatus: m.ReferenceStatus,
				Source:          models.MovementSourceExternal,
				Status:          models.RowStatusActive,
				ExchangeRate:    m.ExchangeRate,
				OdooLink:        odooLink,
				ArchiveVersion:  result.Key.ArchiveVersion,
			})
			continue
		}

		e := result.Exception
		out.companies[e.CompanyID] = e.CompanyName
		out.exceptions = append(out.exceptions, models.Exception{
			CompanyId:       e.CompanyID,
			Category:        e.Category,
			Type:            rules.Name,
			ExceptionType:   models.ExceptionTypeAuto,
			Criticality:     models.CriticalityWarning,
			Description:     e.Reason,
			Amount:          e.Amount,
			Sign:            e.Sign,
			ReferenceType:   e.ReferenceType,
			Reference:       e.Reference,
			ReferenceStatus: e.ReferenceStatus,
			OdooLink:        odooLink,
			Status:          models.RowStatusActive,
		})
	}
	return out
}

// MoveSource is the connector surface a reconciliation needs.
// *odoo.Client satisfies it.
type MoveSource interface {
	FetchMoves(ctx context.Context, domain []odoo.Condition) ([]odoo.AccountMove, error)
	RecordLink(id int) string
}

// Reconciler replaces one source type's ledger rows with freshly classified
// rows from the latest fetch.
type Reconciler struct {
	DB        *gorm.DB
	Connector MoveSource
	Logger    *logrus.Logger
}

// Reconcile fetches the source's records and applies a full delete-then-insert
// replacement in a single transaction. A failure rolls everything back and
// leaves the previous rows intact.
func (r *Reconciler) Reconcile(ctx context.Context, rules SourceRules) (ReconcileStats, error) {
	records, err := r.Connector.FetchMoves(ctx, rules.Domain())
	if err != nil {
		return ReconcileStats{}, err
	}

	built := buildReconciliation(rules, records, time.Now().UTC(), r.Connector.RecordLink)

	stats := ReconcileStats{
		RecordsFetched:     len(records),
		MovementsInserted:  len(built.movements),
		ExceptionsInserted: len(built.exceptions),
		DuplicatesDropped:  built.duplicates,
	}

	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		systemUser, err := models.GetOrCreateSystemUser(tx)
		if err != nil {
			return err
		}
		for id, name := range built.companies {
			if err := models.EnsureCompany(tx, id, name); err != nil {
				return err
			}
		}

		res := tx.Where("type = ?", rules.Name).Delete(&models.Movement{})
		if res.Error != nil {
			return res.Error
		}
		stats.MovementsDeleted = int(res.RowsAffected)

		res = tx.Where("type = ?", rules.Name).Delete(&models.Exception{})
		if res.Error != nil {
			return res.Error
		}
		stats.ExceptionsDeleted = int(res.RowsAffected)

		for i := range built.movements {
			built.movements[i].CreatedBy = systemUser.ID
			built.movements[i].UpdatedBy = &systemUser.ID
		}
		if len(built.movements) > 0 {
			if err := tx.CreateInBatches(built.movements, 100).Error; err != nil {
				return err
			}
		}
		if len(built.exceptions) > 0 {
			if err := tx.CreateInBatches(built.exceptions, 100).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ReconcileStats{}, err
	}

	if r.Logger != nil {
		r.Logger.WithFields(logrus.Fields{
			"module":             "refresh",
			"source":             rules.Name,
			"recordsFetched":     stats.RecordsFetched,
			"movementsDeleted":   stats.MovementsDeleted,
			"exceptionsDeleted":  stats.ExceptionsDeleted,
			"movementsInserted":  stats.MovementsInserted,
			"exceptionsInserted": stats.ExceptionsInserted,
			"duplicatesDropped":  stats.DuplicatesDropped,
		}).Info("reconciliation applied")
	}
	return stats, nil
}
