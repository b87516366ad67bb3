package database

import "github.com/programmerrush/InsightDB-api/internal/errs"

// ValidateIdentifier checks that name is one of the identifiers the catalog
// reported. Only names that pass are ever spliced into SQL text, and then
// only through Driver.QuoteIdent.
func ValidateIdentifier(name string, known []string) error {
	if name == "" {
		return errs.New(errs.ErrKindInvalidInput, "identifier must not be empty")
	}
	for _, k := range known {
		if k == name {
			return nil
		}
	}
	return errs.Newf(errs.ErrKindExecutionFailed, "%q does not exist", name)
}

func tableNames(tables []Table) []string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	return names
}
