package sqlinline

const QEnsureLedgerSchema = `--sql 3f6c1d2e-8a47-4b9e-9c51-7d0e2f4a6b13
create table if not exists accounts (
    user_id    text primary key,
    plan       text not null default 'free',
    credits    integer not null check (credits >= 0),
    reset_at   timestamptz not null,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
create table if not exists case_requests (
    idempotency_key text primary key,
    user_id         text not null references accounts (user_id) on delete cascade,
    status          text not null,
    case_id         text,
    created_at      timestamptz not null default now(),
    updated_at      timestamptz not null default now()
);
create index if not exists case_requests_user_status_idx on case_requests (user_id, status);
create unique index if not exists case_requests_one_running_idx on case_requests (user_id) where status = 'running';
`

const QEnsureAccount = `--sql 9b2e4f71-0c3a-4d58-8e16-a4c7b9d20f35
with inserted as (
    insert into accounts (user_id, plan, credits, reset_at)
    values ($1::text, 'free', $2::int, $3::timestamptz)
    on conflict (user_id) do nothing
    returning user_id, plan, credits, reset_at
)
select user_id, plan, credits, reset_at from inserted
union all
select user_id, plan, credits, reset_at
from accounts
where user_id = $1::text and not exists (select 1 from inserted)
limit 1;
`

const QRefreshAccount = `--sql 5d8a0b3c-61e2-47f9-b0a4-2c9e7f1d6a58
update accounts set
    credits = $3::int,
    reset_at = $4::timestamptz,
    updated_at = now()
where user_id = $1::text and reset_at <= $2::timestamptz
returning user_id, plan, credits, reset_at;
`

const QBeginCaseRequest = `--sql e41f7a09-2b6d-4c83-9a5e-0f8d3b7c1e26
insert into case_requests (idempotency_key, user_id, status)
select $1::text, $2::text, 'running'
where not exists (
    select 1 from case_requests
    where user_id = $2::text and status = 'running' and idempotency_key <> $1::text
)
on conflict (idempotency_key) do update set
    status = 'running',
    updated_at = now()
where case_requests.status = 'failed' and case_requests.user_id = excluded.user_id
returning idempotency_key;
`

const QCommitCaseRequest = `--sql 7c05e3b8-d9a1-4f26-8b47-e2a6c0f49d71
with finished as (
    update case_requests set
        status = 'done',
        case_id = $3::text,
        updated_at = now()
    where idempotency_key = $2::text and user_id = $1::text and status = 'running'
    returning idempotency_key
),
consumed as (
    update accounts set
        credits = greatest(credits - 1, 0),
        updated_at = now()
    where user_id = $1::text and exists (select 1 from finished)
    returning credits, reset_at
)
select credits, reset_at from consumed;
`

const QExpireCaseRequests = `--sql 5d3c8a17-e2f9-4b60-9c74-1a6b0e8f2d93
update case_requests set
    status = 'failed',
    updated_at = now()
where user_id = $1::text and status = 'running' and updated_at < $2::timestamptz;
`

const QAbandonCaseRequest = `--sql 2a9d6e40-f3b7-4158-a0c2-98e1b5d7c364
update case_requests set
    status = 'failed',
    updated_at = now()
where idempotency_key = $1::text and status = 'running';
`

const QSetAccountPlan = `--sql b8e1c4f2-7a05-4d93-86bf-3d2a9e0c5b17
insert into accounts (user_id, plan, credits, reset_at)
values ($1::text, $2::text, $3::int, $4::timestamptz)
on conflict (user_id) do update set
    plan = excluded.plan,
    credits = excluded.credits,
    updated_at = now()
returning user_id, plan, credits, reset_at;
`
