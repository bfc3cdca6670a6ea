package pg

const (
	qLoadResource = `select folder_id, name, uri from resources where id = $1`

	qResourceExists = `select exists(select 1 from resources where id = $1)`

	qLockResource = `select folder_id from resources where id = $1 for update`

	qFolderExists = `select exists(select 1 from folders where id = $1)`

	qLockFolder = `select id from folders where id = $1 for update`

	qLoadPermissions = `select aro, aro_id, level from permissions where aco = $1 and aco_id = $2 order by aro, aro_id`

	qListResourceIDs = `select id from resources order by id`

	qListSecretHolders = `select user_id from secrets where resource_id = $1 order by user_id`

	qLoadSecret = `select data from secrets where resource_id = $1 and user_id = $2`

	qUpsertPermission = `insert into permissions(aco, aco_id, aro, aro_id, level) values ($1, $2, $3, $4, $5)
		on conflict (aco, aco_id, aro, aro_id) do update set level = excluded.level`

	qDeletePermission = `delete from permissions where aco = $1 and aco_id = $2 and aro = $3 and aro_id = $4`

	qDeleteAllPermissions = `delete from permissions where aco = $1 and aco_id = $2`

	qInsertSecret = `insert into secrets(resource_id, user_id, data) values ($1, $2, $3)`

	qDeleteSecret = `delete from secrets where resource_id = $1 and user_id = $2`

	qSetResourceFolder = `update resources set folder_id = $2 where id = $1`

	qListMembers = `select g.id, m.user_id from groups g
		left join group_members m on m.group_id = g.id
		where g.id = $1 order by m.user_id`

	qLoadPublicKey = `select public_pem from user_keys where user_id = $1`

	qLoadKeyMetadata = `select revoked, expires_at from user_keys where user_id = $1`

	qUpsertResource = `insert into resources(id, folder_id, name, uri) values ($1, $2, $3, $4)
		on conflict (id) do update set folder_id = excluded.folder_id, name = excluded.name, uri = excluded.uri`

	qUpsertFolder = `insert into folders(id, name) values ($1, $2)
		on conflict (id) do update set name = excluded.name`

	qUpsertGroup = `insert into groups(id, name) values ($1, $2)
		on conflict (id) do update set name = excluded.name`

	qDeleteGroupMembers = `delete from group_members where group_id = $1`

	qInsertGroupMember = `insert into group_members(group_id, user_id) values ($1, $2)`

	qUpsertPublicKey = `insert into user_keys(user_id, public_pem) values ($1, $2)
		on conflict (user_id) do update set public_pem = excluded.public_pem, revoked = false, expires_at = null`

	qRevokeKey = `update user_keys set revoked = true where user_id = $1`
)
