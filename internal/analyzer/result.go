package analyzer

// Failure builds the result returned for any analysis that could not produce
// a mapping. Every field holds its neutral value and Error carries the
// reason.
func Failure(err error) *AnalysisResult {
	msg := "analysis failed"
	if err != nil {
		msg = err.Error()
	}
	empty := ""
	return &AnalysisResult{
		Success: false,
		ColumnMapping: ColumnMapping{
			Date: "",
			Memo: &empty,
		},
		HeaderRowIndex:           0,
		DataStartRowIndex:        1,
		TransactionTypeDetection: TransactionTypeDetection{Method: MethodSeparateColumns},
		MemoAnalysis:             MemoAnalysis{ContentType: "unknown"},
		Confidence:               0,
		Error:                    &msg,
		err:                      err,
	}
}

// ErrorKind returns the failure kind recorded in a result, or "" for
// successful results.
func (r *AnalysisResult) ErrorKind() Kind {
	if r.Success || r.err == nil {
		return ""
	}
	return KindOf(r.err)
}
