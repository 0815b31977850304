package sqlinline

// Queries for the jobs table. Every query carries a --sql marker on its
// first line so the SQLRunner can correlate log lines with call sites;
// internal/tools/sqllint enforces the convention.

const QInsertJob = `--sql 7c1f0a9e-4b2d-4e8a-9c6f-2d5b8e1a3f47
INSERT INTO jobs (
	id, owner_id, batch_type, styles, outputs_per_variant, priority,
	options, status, progress, current_step, variants, estimates,
	source_ref, source_image, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15);
`

const QUpdateJobProgress = `--sql 3e9d2c41-8f6a-4b07-b1e5-9a4c7d2f8e06
UPDATE jobs
SET status = COALESCE($2, status),
    progress = COALESCE($3, progress),
    current_step = COALESCE($4, current_step),
    variants = COALESCE($5, variants),
    result = COALESCE($6, result),
    error_details = COALESCE($7, error_details),
    started_at = COALESCE($8, started_at),
    completed_at = COALESCE($9, completed_at),
    source_image = CASE WHEN $10 THEN NULL ELSE source_image END,
    updated_at = NOW()
WHERE id = $1;
`

const QSelectJob = `--sql b5a8e0f2-6c3d-49b1-8d7e-4f2a9c6b1e53
SELECT id, owner_id, batch_type, styles, outputs_per_variant, priority,
       options, status, progress, current_step, variants, estimates,
       result, error_details, source_ref, created_at, started_at,
       completed_at, updated_at
FROM jobs
WHERE id = $1;
`

const QSelectNonTerminalJobs = `--sql 9f4b7d13-2e8c-4a65-b09d-6c1e5a8f3d27
SELECT id, owner_id, batch_type, styles, outputs_per_variant, priority,
       options, status, progress, current_step, variants, estimates,
       result, error_details, source_ref, created_at, started_at,
       completed_at, updated_at, source_image
FROM jobs
WHERE status NOT IN ('completed', 'failed', 'cancelled')
ORDER BY created_at ASC;
`

const QSelectJobsByOwner = `--sql d2c6f8a4-1b9e-4d73-a5c8-7e3f2b6d9a15
SELECT id, batch_type, status, progress, created_at, completed_at
FROM jobs
WHERE owner_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
