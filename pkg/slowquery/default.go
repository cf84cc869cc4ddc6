/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package slowquery

import "regexp"

const (
	PlaceholderObjectId  = `"ObjectId"`
	PlaceholderDate      = `"Date"`
	PlaceholderTimestamp = `"Timestamp"`
	PlaceholderOid       = `"oid"`
	PlaceholderString    = `"-"`
)

// DefaultCatalog returns the built-in catalog for mongod slow operation logs.
// Each call compiles a fresh catalog.
func DefaultCatalog() *Catalog {
	return NewCatalog(DefaultRules(), DefaultIgnoreRules(), DefaultValueRules())
}

// DefaultRules lists specific shapes (transaction documents) before the generic
// command rules they would otherwise be swallowed by.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "insert", Detect: regexp.MustCompile(`\sinsert:\s".*",`), TargetLabel: "insert: "},
		{Name: "update", Detect: regexp.MustCompile(`\supdate:\s".*",`), TargetLabel: "update: ", QueryLabel: "q: "},
		{Name: "transactionStatusUpdate", Detect: regexp.MustCompile(`\s_id:\sObjectId.'[a-f\d]{24}'.,\sstate:\s"pending"`)},
		{Name: "transactionInvokeDoc", Detect: regexp.MustCompile(`\splanSummary:\sIXSCAN\s.\s_id:\s1\s.\supdate:\s.\s.set:\s.\st:\sObjectId`), TargetLabel: "findandmodify: "},
		{Name: "transactionUpdate", Detect: regexp.MustCompile(`\s_id:\sObjectId.'[a-f\d]{24}'.,\st:\sObjectId.'[a-f\d]{24}'.*\supdate:\s.*\s.set:.*\sObjectId`)},
		{Name: "transactionPushHistory(common)", Detect: regexp.MustCompile(`\splanSummary:\sIDHACK\supdate:\s.\s.push:\s.\shistories:\s`)},
		{Name: "transactionDateUpdate", Detect: regexp.MustCompile(`\s_id:\sObjectId.'[a-f\d]{24}'.\s.\splanSummary:\sIDHACK\supdate:\s`)},
		{Name: "checkViewedItems", Detect: regexp.MustCompile(`\s_id:\s.\s.in:\s.\sObjectId.'[a-f\d]{24}'.*,\saccountid:\sObjectId.'[a-f\d]{24}'.*\supdate:\s.\s.set:\s.\sis_new`)},
		{Name: "checkMyOrdersNew", Detect: regexp.MustCompile(`\said:\sObjectId.'[a-f\d]{24}'.,\s_id:\s.\s.in:\s.\sObjectId.'[a-f\d]{24}'.*.\supdate:\s.\s.set:\s.\sis_new`)},
		{Name: "getMore", Detect: regexp.MustCompile(`\sgetMore:\s\d`), TargetLabel: "collection: "},
		{Name: "find", Detect: regexp.MustCompile(`\sfind:\s".*",`), TargetLabel: "find: ", QueryLabel: "filter: ", SortLabel: "sort: "},
		{Name: "findAndModify", Detect: regexp.MustCompile(`(?i)\sfindandmodify:\s*".*",`), TargetLabel: "findAndModify: ", QueryLabel: "query: "},
		{Name: "delete", Detect: regexp.MustCompile(`\sdelete:\s".*",`), TargetLabel: "delete: ", QueryLabel: "q: "},
		{Name: "aggregate", Detect: regexp.MustCompile(`\saggregate:\s".*",`), TargetLabel: "aggregate: ", QueryLabel: "pipeline: "},
		{Name: "count", Detect: regexp.MustCompile(`\scount:\s".*",`), TargetLabel: "count: ", QueryLabel: "query: "},
		{Name: "distinct", Detect: regexp.MustCompile(`\sdistinct:\s".*",`), TargetLabel: "distinct: ", QueryLabel: "query: "},
		{Name: "create", Detect: regexp.MustCompile(`(?i)\screate:\s*".*",`), TargetLabel: "create: "},
		{Name: "drop", Detect: regexp.MustCompile(`(?i)\sdrop:\s*".*",`), TargetLabel: "drop: "},
		{Name: "createIndex", Detect: regexp.MustCompile(`(?i)\screateIndexes:\s*".*",`), TargetLabel: "createIndexes: "},
		{Name: "dropUser", Detect: regexp.MustCompile(`(?i)\sdropUser:\s*".*"`), TargetLabel: "dropUser: "},
		{Name: "moveChunk", Detect: regexp.MustCompile(`\smoveChunk:\s".*",`), TargetLabel: "moveChunk: "},
		{Name: "moveChunkConfig", Detect: regexp.MustCompile(`\s_configsvrMoveChunk:\s\d,`), TargetLabel: "ns: "},
		{Name: "collStats", Detect: regexp.MustCompile(`\scollStats:\s".*"`), TargetLabel: "collStats: "},
		{Name: "listCollections", Detect: regexp.MustCompile(`\slistCollections:\s\d`)},
		{Name: "serverStatus", Detect: regexp.MustCompile(`\sserverStatus:\s\d`)},
	}
}

// DefaultIgnoreRules matches lock and oplog replay commands issued by backup and
// replication tooling.
func DefaultIgnoreRules() []IgnoreRule {
	return []IgnoreRule{
		{Detect: regexp.MustCompile(`\sfsyncUnlock:\s\d`)},
		{Detect: regexp.MustCompile(`\sfsync:\s\d`)},
		{Detect: regexp.MustCompile(`\sapplyOps:\s`)},
	}
}

// DefaultValueRules must keep structural replacements ahead of the number and string
// catch-alls.
func DefaultValueRules() []ValueRule {
	return []ValueRule{
		{Detect: regexp.MustCompile(`(?i)ObjectId.'[a-f\d]{24}'.`), Replacement: PlaceholderObjectId},
		{Detect: regexp.MustCompile(`(?i)new\sDate.\d{13}.`), Replacement: PlaceholderDate},
		{Detect: regexp.MustCompile(`(?i)\sTimestamp\s*(\d+\|+\d+|\(\d+,\s*\d+\))`), Replacement: " " + PlaceholderTimestamp},
		// the character before $in may be a brace or comma in compact queries
		{Detect: regexp.MustCompile(`(?i)([\s{,])\$in:\s*\[[^\]]*\]`), Replacement: "${1}$$in: []"},
		{Detect: regexp.MustCompile(`(?i):\s"[a-f\d]{24}"`), Replacement: ": " + PlaceholderOid},
		{Detect: regexp.MustCompile(`:\s-?\d[\d.]*`), Replacement: ": 0"},
		{
			Detect:      regexp.MustCompile(`:\s("[^"]*")(,\s?)?`),
			Replacement: ": " + PlaceholderString + ", ",
			Keep:        []string{PlaceholderObjectId, PlaceholderDate, PlaceholderTimestamp, PlaceholderOid},
		},
		// a regex literal, not the inside of an unterminated string
		{Detect: regexp.MustCompile(`(?i)(^|[^"])/[a-f\d]{24}/`), Replacement: "${1}" + PlaceholderOid},
	}
}
