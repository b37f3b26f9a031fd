package sqlinline

const QArchiveEnsureSchema = `--sql 3d7c1f52-8a4e-4b19-a6d2-0e9b5c7f2a81
create table if not exists job_archive (
  id               uuid primary key,
  kind             text not null,
  mode             text not null,
  status           text not null,
  progress         int not null default 0,
  progress_message text not null default '',
  request_payload  jsonb not null default '{}'::jsonb,
  result           jsonb,
  error            jsonb,
  created_at       timestamptz not null,
  started_at       timestamptz,
  completed_at     timestamptz,
  archived_at      timestamptz not null default now()
);
create index if not exists job_archive_completed_at_idx on job_archive (completed_at desc);
`

const QArchiveUpsertJob = `--sql 9a41e6b0-2f3d-4c85-b7e1-64d0c2a8f5b3
insert into job_archive (
  id, kind, mode, status, progress, progress_message,
  request_payload, result, error, created_at, started_at, completed_at
)
values (
  $1::uuid, $2::text, $3::text, $4::text, $5::int, $6::text,
  coalesce($7::jsonb, '{}'::jsonb), $8::jsonb, $9::jsonb, $10::timestamptz, $11::timestamptz, $12::timestamptz
)
on conflict (id) do update set
  status           = excluded.status,
  progress         = excluded.progress,
  progress_message = excluded.progress_message,
  result           = excluded.result,
  error            = excluded.error,
  started_at       = excluded.started_at,
  completed_at     = excluded.completed_at,
  archived_at      = now();
`

const QArchiveRecentJobs = `--sql c5e08d3a-71b4-4f2e-8c96-1ab3f7d4e6c2
select
  id::text,
  kind,
  mode,
  status,
  progress,
  progress_message,
  request_payload,
  result,
  error,
  created_at,
  started_at,
  completed_at
from job_archive
order by completed_at desc nulls last, created_at desc
limit $1::int;
`
