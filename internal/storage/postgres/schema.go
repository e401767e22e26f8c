package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS signals (
	id             BIGSERIAL PRIMARY KEY,
	chain          TEXT NOT NULL,
	tx_hash        TEXT NOT NULL,
	contract       TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	ticker         TEXT NOT NULL,
	direction      TEXT NOT NULL,
	message_tier   TEXT NOT NULL,
	supply_percent DOUBLE PRECISION NOT NULL,
	usd_amount     DOUBLE PRECISION NOT NULL DEFAULT 0,
	auto_open      BOOLEAN NOT NULL,
	payload        JSONB NOT NULL,
	detected_at    TIMESTAMPTZ NOT NULL,
	UNIQUE (chain, tx_hash, contract, event_type)
);

CREATE TABLE IF NOT EXISTS address_labels (
	address TEXT PRIMARY KEY,
	label   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS multisig_addresses (
	address TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS blacklist_signatures (
	event_type TEXT NOT NULL,
	topic0     TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (event_type, topic0)
);

CREATE TABLE IF NOT EXISTS custom_rules (
	chain         TEXT NOT NULL,
	token_address TEXT NOT NULL,
	event_type    TEXT NOT NULL,
	rule          JSONB NOT NULL,
	token_data    JSONB NOT NULL,
	PRIMARY KEY (chain, token_address, event_type)
);

CREATE TABLE IF NOT EXISTS screener_state (
	name                 TEXT PRIMARY KEY,
	last_processed_block BIGINT NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
);
`
