package api

import (
	"automl-backend/internal/session"
	"automl-backend/internal/table"
	"automl-backend/pkg/api"
)

func convertSession(s *session.State) api.Session {
	out := api.Session{
		Id:                  s.Id,
		Stage:               string(s.Stage),
		TrainUploaded:       s.TrainUploaded,
		DoneSelection:       s.DoneSelection,
		TrainFileName:       s.TrainFile.Name,
		PredictFileName:     s.PredictFile.Name,
		TargetIsCategorical: s.TargetIsCategorical,
		Message:             s.Message,
		Error:               s.Error,
	}

	if s.DoneSelection {
		out.Roles = &api.ColumnRoles{
			Categorical: s.Roles.Categorical,
			Datetime:    s.Roles.Datetime,
			Target:      s.Roles.Target,
		}
	}

	if s.Model != nil {
		out.Model = &api.TrainedModel{
			ProjectName:         s.Model.ProjectName,
			LeaderId:            s.Model.LeaderId,
			TargetColumn:        s.Model.TargetColumn,
			TargetIsCategorical: s.Model.TargetIsCategorical,
			FeatureColumns:      s.Model.FeatureColumns,
		}
	}

	return out
}

func convertTable(t *table.Table) *api.Table {
	if t == nil {
		return nil
	}
	kinds := make([]string, 0, t.NumColumns())
	for _, k := range t.Kinds() {
		kinds = append(kinds, string(k))
	}
	return &api.Table{
		Columns: t.ColumnNames(),
		Kinds:   kinds,
		Rows:    t.Rows(),
	}
}
