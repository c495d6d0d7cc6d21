// Package templates holds the registry queries. %[1]s is the table prefix.
package templates

import "fmt"

const FetchSubmissionContext = `
SELECT jdb.id AS test_database_id
	, jdb.dbms AS dbms
	, ja.timelimit AS time_limit
	, ja.checkscript AS check_script
	, ja.correctanswer AS correct_answer
	, ja.correctoutput AS correct_output
	, ja.mustcontain AS must_contain
	, a.id AS assignment_id
	, t.onlinetext AS answer
	, js.id AS tracking_id
FROM %[1]sdatabase_sqlj jdb
JOIN %[1]sassignment_sqlj ja
	ON jdb.id = ja.testdb
JOIN %[1]sassign a
	ON ja.assignment = a.id
JOIN %[1]sassign_submission s
	ON a.id = s.assignment
JOIN %[1]sassignsubmission_onlinetext t
	ON s.id = t.submission
JOIN %[1]sassignment_sqlj_submission js
	ON s.id = js.submission
WHERE s.id = ?
	AND t.onlinetext IS NOT NULL
	AND t.onlinetext <> ''`

const FetchAssignment = `
SELECT ja.assignment AS assignment_id
	, ja.correctanswer AS correct_answer
	, ja.checkscript AS check_script
	, ja.correctoutput AS correct_output
	, jdb.id AS test_database_id
	, jdb.dbms AS dbms
FROM %[1]sassignment_sqlj ja
JOIN %[1]sdatabase_sqlj jdb
	ON jdb.id = ja.testdb
WHERE ja.assignment = ?`

const FetchTestDatabase = `
SELECT id
	, dbms
	, dbcreationscript AS creation_script
FROM %[1]sdatabase_sqlj
WHERE id = ?`

const FetchPendingSubmissions = `
SELECT js.submission
FROM %[1]sassignment_sqlj_submission js
WHERE js.status = ?
ORDER BY js.id
LIMIT ?`

const UpdateSubmissionVerdict = `
UPDATE %[1]sassignment_sqlj_submission
SET status = ?
	, output = ?
	, testedon = ?
WHERE id = ?`

const UpdateSubmissionVerdictBySubmission = `
UPDATE %[1]sassignment_sqlj_submission
SET status = ?
	, output = ?
	, testedon = ?
WHERE submission = ?`

const UpdateCorrectOutput = `
UPDATE %[1]sassignment_sqlj
SET correctoutput = ?
WHERE assignment = ?`

// Queries is the query catalogue bound to one table prefix.
type Queries struct {
	FetchSubmissionContext    string
	FetchAssignment           string
	FetchTestDatabase         string
	FetchPendingSubmissions   string
	UpdateSubmissionVerdict   string
	UpdateVerdictBySubmission string
	UpdateCorrectOutput       string
}

func WithPrefix(prefix string) Queries {
	return Queries{
		FetchSubmissionContext:    fmt.Sprintf(FetchSubmissionContext, prefix),
		FetchAssignment:           fmt.Sprintf(FetchAssignment, prefix),
		FetchTestDatabase:         fmt.Sprintf(FetchTestDatabase, prefix),
		FetchPendingSubmissions:   fmt.Sprintf(FetchPendingSubmissions, prefix),
		UpdateSubmissionVerdict:   fmt.Sprintf(UpdateSubmissionVerdict, prefix),
		UpdateVerdictBySubmission: fmt.Sprintf(UpdateSubmissionVerdictBySubmission, prefix),
		UpdateCorrectOutput:       fmt.Sprintf(UpdateCorrectOutput, prefix),
	}
}
