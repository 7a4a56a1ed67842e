package types

type Query struct {
	ExecutedAt          int64  `json:"executed_at"`
	Duration            int64  `json:"duration"`
	RowCount            int64  `json:"row_count"`
	Query               string `json:"query"`
	IsPreparedStatement bool   `json:"is_prepared_statement"`
}

type QueriesPayload struct {
	Queries []Query `json:"queries"`
}
