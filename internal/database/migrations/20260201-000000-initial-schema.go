package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260201-000000",
		Description: "Initial schema",
		Up: []string{
			// Source pages - every URL belonging to an OEM's site that the
			// scheduler visits on a cadence (spec §3 SourcePage).
			`CREATE TABLE IF NOT EXISTS source_pages (
				id TEXT PRIMARY KEY,
				oem_id TEXT NOT NULL,
				url TEXT NOT NULL,
				page_type TEXT NOT NULL,
				last_hash TEXT,
				last_rendered_hash TEXT,
				last_checked_at TEXT,
				last_changed_at TEXT,
				consecutive_no_change INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'active',
				error_message TEXT,
				consecutive_404s INTEGER NOT NULL DEFAULT 0,
				consecutive_blocked INTEGER NOT NULL DEFAULT 0,
				depth INTEGER NOT NULL DEFAULT 0,
				discovered_from_id TEXT REFERENCES source_pages(id),
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_source_pages_oem_url ON source_pages(oem_id, url)`,
			`CREATE INDEX IF NOT EXISTS idx_source_pages_oem_status ON source_pages(oem_id, status)`,
			`CREATE INDEX IF NOT EXISTS idx_source_pages_last_checked_at ON source_pages(last_checked_at)`,

			// Discovered APIs - JSON endpoints observed during a render and
			// judged to carry product/offer data (spec §3 DiscoveredAPI).
			`CREATE TABLE IF NOT EXISTS discovered_apis (
				id TEXT PRIMARY KEY,
				oem_id TEXT NOT NULL,
				url TEXT NOT NULL,
				method TEXT NOT NULL,
				required_headers TEXT,
				data_type TEXT NOT NULL DEFAULT 'unknown',
				reliability_score REAL NOT NULL DEFAULT 0,
				last_success_at TEXT,
				last_failure_at TEXT,
				consecutive_failures INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'active',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_discovered_apis_oem_url_method ON discovered_apis(oem_id, url, method)`,

			// Products - upsert target keyed by (oem_id, external_key) (spec §3 Product).
			`CREATE TABLE IF NOT EXISTS products (
				id TEXT PRIMARY KEY,
				oem_id TEXT NOT NULL,
				external_key TEXT NOT NULL,
				canonical_json TEXT NOT NULL,
				content_hash TEXT NOT NULL,
				first_seen_at TEXT NOT NULL,
				last_seen_at TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_products_oem_external_key ON products(oem_id, external_key)`,
			`CREATE INDEX IF NOT EXISTS idx_products_oem_last_seen ON products(oem_id, last_seen_at)`,

			// Product versions - immutable snapshots, one row per distinct
			// content_hash observed for a product (spec §3 ProductVersion).
			`CREATE TABLE IF NOT EXISTS product_versions (
				id TEXT PRIMARY KEY,
				product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
				content_hash TEXT NOT NULL,
				captured_at TEXT NOT NULL,
				snapshot_json TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_product_versions_product_hash ON product_versions(product_id, content_hash)`,
			`CREATE INDEX IF NOT EXISTS idx_product_versions_product_id ON product_versions(product_id, captured_at)`,

			// Offers - upsert target keyed by (oem_id, external_key), analogous
			// to products (spec §3 Offer).
			`CREATE TABLE IF NOT EXISTS offers (
				id TEXT PRIMARY KEY,
				oem_id TEXT NOT NULL,
				external_key TEXT NOT NULL,
				canonical_json TEXT NOT NULL,
				content_hash TEXT NOT NULL,
				first_seen_at TEXT NOT NULL,
				last_seen_at TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_offers_oem_external_key ON offers(oem_id, external_key)`,
			`CREATE INDEX IF NOT EXISTS idx_offers_oem_last_seen ON offers(oem_id, last_seen_at)`,

			// Offer versions - immutable snapshots (spec §3 OfferVersion).
			`CREATE TABLE IF NOT EXISTS offer_versions (
				id TEXT PRIMARY KEY,
				offer_id TEXT NOT NULL REFERENCES offers(id) ON DELETE CASCADE,
				content_hash TEXT NOT NULL,
				captured_at TEXT NOT NULL,
				snapshot_json TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_offer_versions_offer_hash ON offer_versions(offer_id, content_hash)`,
			`CREATE INDEX IF NOT EXISTS idx_offer_versions_offer_id ON offer_versions(offer_id, captured_at)`,

			// Change events - immutable, typed record of a detected change
			// (spec §3 ChangeEvent). diff_json carries the {field: {from, to}} map.
			`CREATE TABLE IF NOT EXISTS change_events (
				id TEXT PRIMARY KEY,
				oem_id TEXT NOT NULL,
				entity_type TEXT NOT NULL,
				entity_id TEXT,
				event_type TEXT NOT NULL,
				severity TEXT NOT NULL,
				summary TEXT NOT NULL,
				diff_json TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_change_events_oem_created_at ON change_events(oem_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_change_events_entity ON change_events(entity_type, entity_id)`,

			// Import runs - one orchestration pass per OEM (spec §3 ImportRun).
			`CREATE TABLE IF NOT EXISTS import_runs (
				id TEXT PRIMARY KEY,
				oem_id TEXT NOT NULL,
				started_at TEXT NOT NULL,
				finished_at TEXT,
				status TEXT NOT NULL DEFAULT 'running',
				pages_checked INTEGER NOT NULL DEFAULT 0,
				pages_changed INTEGER NOT NULL DEFAULT 0,
				products_upserted INTEGER NOT NULL DEFAULT 0,
				offers_upserted INTEGER NOT NULL DEFAULT 0,
				error_count INTEGER NOT NULL DEFAULT 0,
				error_json TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_import_runs_oem_started_at ON import_runs(oem_id, started_at)`,
			`CREATE INDEX IF NOT EXISTS idx_import_runs_oem_status ON import_runs(oem_id, status)`,

			// AI inference log - one row per LLM Router invocation (spec §3 AIInferenceLog).
			`CREATE TABLE IF NOT EXISTS ai_inference_log (
				id TEXT PRIMARY KEY,
				provider TEXT NOT NULL,
				model TEXT NOT NULL,
				task_type TEXT NOT NULL,
				input_tokens INTEGER NOT NULL DEFAULT 0,
				output_tokens INTEGER NOT NULL DEFAULT 0,
				cost_usd REAL NOT NULL DEFAULT 0,
				latency_ms INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL,
				was_fallback INTEGER NOT NULL DEFAULT 0,
				prompt_hash TEXT NOT NULL,
				response_hash TEXT,
				error_message TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_ai_inference_log_created_at ON ai_inference_log(created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_ai_inference_log_provider_model ON ai_inference_log(provider, model, created_at)`,
		},
	})
}
