package barstore

// Schema is applied on open. Bars are partitioned by (instrument,
// granularity) and by UTC day; close_ms is unique inside a partition.
const Schema = `
CREATE TABLE IF NOT EXISTS bars (
	instrument TEXT NOT NULL,
	granularity TEXT NOT NULL,
	close_ms INTEGER NOT NULL,
	day TEXT NOT NULL,
	open REAL NOT NULL,
	high REAL NOT NULL,
	low REAL NOT NULL,
	close REAL NOT NULL,
	volume REAL NOT NULL,
	PRIMARY KEY (instrument, granularity, close_ms)
);

CREATE INDEX IF NOT EXISTS idx_bars_day ON bars(instrument, granularity, day);
`
