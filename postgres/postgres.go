// Package postgres is a SQL-backed connector storing SCIM resources as
// JSONB rows, one schema shared by all tenants with a tenant
// discriminator column.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/idgateway/scimgw/scim"

	_ "github.com/lib/pq"
)

// Connector serves SCIM users and groups from PostgreSQL.
type Connector struct {
	name string
	db   *sqlx.DB
}

// UserData wraps scim.User as a JSONB column value.
type UserData struct {
	User *scim.User
}

func (u *UserData) Scan(value any) error {
	if value == nil {
		u.User = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("scan UserData: expected []byte or string, got %T", value)
		}
		bytes = []byte(str)
	}
	u.User = &scim.User{}
	return json.Unmarshal(bytes, u.User)
}

func (u UserData) Value() (driver.Value, error) {
	if u.User == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(u.User)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// GroupData wraps scim.Group as a JSONB column value.
type GroupData struct {
	Group *scim.Group
}

func (g *GroupData) Scan(value any) error {
	if value == nil {
		g.Group = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("scan GroupData: expected []byte or string, got %T", value)
		}
		bytes = []byte(str)
	}
	g.Group = &scim.Group{}
	return json.Unmarshal(bytes, g.Group)
}

func (g GroupData) Value() (driver.Value, error) {
	if g.Group == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(g.Group)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

type userRow struct {
	ID        string    `db:"id"`
	Tenant    string    `db:"tenant"`
	Username  string    `db:"username"`
	Data      UserData  `db:"data"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type groupRow struct {
	ID          string    `db:"id"`
	Tenant      string    `db:"tenant"`
	DisplayName string    `db:"display_name"`
	Data        GroupData `db:"data"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// New opens the database and ensures the schema.
func New(name, connStr string) (*Connector, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close() // nolint:errcheck
		return nil, fmt.Errorf("ping database: %w", err)
	}

	c := &Connector{name: name, db: db}
	if err := c.initSchema(); err != nil {
		db.Close() // nolint:errcheck
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return c, nil
}

func (c *Connector) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT NOT NULL,
			tenant TEXT NOT NULL,
			username TEXT NOT NULL,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant, id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username ON users(tenant, username)`,
		`CREATE INDEX IF NOT EXISTS idx_users_data ON users USING GIN(data)`,
		`CREATE TABLE IF NOT EXISTS groups (
			id TEXT NOT NULL,
			tenant TEXT NOT NULL,
			display_name TEXT NOT NULL,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant, id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_groups_display_name ON groups(tenant, display_name)`,
		`CREATE INDEX IF NOT EXISTS idx_groups_data ON groups USING GIN(data)`,
	}

	for _, query := range queries {
		if _, err := c.db.Exec(query); err != nil {
			return fmt.Errorf("schema query: %w", err)
		}
	}
	return nil
}

func (c *Connector) Name() string {
	return c.name
}

func (c *Connector) Close() error {
	return c.db.Close()
}

// userFilterColumns maps filterable attributes to SQL expressions.
var userFilterColumns = map[string]string{
	"id":         "id",
	"username":   "username",
	"externalid": "data->>'externalId'",
}

var groupFilterColumns = map[string]string{
	"id":          "id",
	"displayname": "display_name",
	"externalid":  "data->>'externalId'",
}

func buildQuery(table string, tenant string, q scim.QueryDescriptor, columns map[string]string) (string, []any, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE tenant = $1", table)
	args := []any{tenant}

	if q.RawFilter != "" {
		return "", nil, fmt.Errorf("complex filters are not supported by the postgres backend")
	}

	if q.IsSimple() {
		column, ok := columns[q.Attribute]
		if !ok {
			return "", nil, fmt.Errorf("cannot filter on attribute %q", q.Attribute)
		}
		switch q.Operator {
		case "eq":
			query += fmt.Sprintf(" AND %s = $2", column)
			args = append(args, q.Value)
		case "sw":
			query += fmt.Sprintf(" AND %s LIKE $2", column)
			args = append(args, q.Value+"%")
		default:
			return "", nil, fmt.Errorf("unsupported filter operator %q", q.Operator)
		}
	}

	query += " ORDER BY id"
	if q.Count > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Count)
	}
	if q.StartIndex > 1 {
		query += fmt.Sprintf(" OFFSET %d", q.StartIndex-1)
	}
	return query, args, nil
}

func (c *Connector) Users(ctx context.Context, tenant string, q scim.QueryDescriptor, attrs []string) ([]*scim.User, error) {
	query, args, err := buildQuery("users", tenant, q, userFilterColumns)
	if err != nil {
		return nil, scim.ErrInvalidFilter(err.Error())
	}

	var rows []userRow
	if err := c.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}

	users := make([]*scim.User, 0, len(rows))
	for _, row := range rows {
		if row.Data.User != nil {
			users = append(users, row.Data.User)
		}
	}
	return users, nil
}

func (c *Connector) CreateUser(ctx context.Context, tenant string, user *scim.User) (*scim.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	var exists bool
	err := c.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM users WHERE tenant = $1 AND username = $2)", tenant, user.UserName)
	if err != nil {
		return nil, fmt.Errorf("check existing userName: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("userName %s already exists%s", user.UserName, scim.ConflictSuffix)
	}

	now := time.Now().UTC()
	user.Meta = &scim.Meta{
		ResourceType: "User",
		Created:      &now,
		LastModified: &now,
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO users (id, tenant, username, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, tenant, user.UserName, UserData{User: user}, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (c *Connector) getUser(ctx context.Context, tenant, id string) (*scim.User, error) {
	var row userRow
	err := c.db.GetContext(ctx, &row,
		"SELECT * FROM users WHERE tenant = $1 AND id = $2", tenant, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, scim.ErrNotFound("User", id)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return row.Data.User, nil
}

func (c *Connector) ModifyUser(ctx context.Context, tenant, id string, delta scim.Attributes) error {
	user, err := c.getUser(ctx, tenant, id)
	if err != nil {
		return err
	}

	attrs, err := scim.ToAttributes(user)
	if err != nil {
		return err
	}
	scim.ApplyDelta(attrs, delta)

	data, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	updated := &scim.User{}
	if err := json.Unmarshal(data, updated); err != nil {
		return err
	}
	updated.ID = id

	now := time.Now().UTC()
	if updated.Meta == nil {
		updated.Meta = &scim.Meta{ResourceType: "User"}
	}
	updated.Meta.LastModified = &now

	_, err = c.db.ExecContext(ctx,
		`UPDATE users SET username = $1, data = $2, updated_at = $3 WHERE tenant = $4 AND id = $5`,
		updated.UserName, UserData{User: updated}, now, tenant, id)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (c *Connector) DeleteUser(ctx context.Context, tenant, id string) error {
	result, err := c.db.ExecContext(ctx,
		"DELETE FROM users WHERE tenant = $1 AND id = $2", tenant, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return scim.ErrNotFound("User", id)
	}
	return nil
}

func (c *Connector) Groups(ctx context.Context, tenant string, q scim.QueryDescriptor, attrs []string) ([]*scim.Group, error) {
	// The gateway backfills user groups with a members.value filter;
	// answer it with a JSONB containment probe.
	if q.IsSimple() && q.Attribute == "members.value" && q.Operator == "eq" {
		return c.groupsWithMember(ctx, tenant, q.Value)
	}

	query, args, err := buildQuery("groups", tenant, q, groupFilterColumns)
	if err != nil {
		return nil, scim.ErrInvalidFilter(err.Error())
	}

	var rows []groupRow
	if err := c.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}

	groups := make([]*scim.Group, 0, len(rows))
	for _, row := range rows {
		if row.Data.Group != nil {
			groups = append(groups, row.Data.Group)
		}
	}
	return groups, nil
}

func (c *Connector) groupsWithMember(ctx context.Context, tenant, userID string) ([]*scim.Group, error) {
	member, err := json.Marshal(map[string]any{"members": []map[string]any{{"value": userID}}})
	if err != nil {
		return nil, err
	}

	var rows []groupRow
	err = c.db.SelectContext(ctx, &rows,
		"SELECT * FROM groups WHERE tenant = $1 AND data @> $2 ORDER BY id", tenant, string(member))
	if err != nil {
		return nil, fmt.Errorf("query member groups: %w", err)
	}

	groups := make([]*scim.Group, 0, len(rows))
	for _, row := range rows {
		if row.Data.Group != nil {
			groups = append(groups, row.Data.Group)
		}
	}
	return groups, nil
}

func (c *Connector) CreateGroup(ctx context.Context, tenant string, group *scim.Group) (*scim.Group, error) {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}

	var exists bool
	err := c.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM groups WHERE tenant = $1 AND display_name = $2)", tenant, group.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("check existing displayName: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("displayName %s already exists%s", group.DisplayName, scim.ConflictSuffix)
	}

	now := time.Now().UTC()
	group.Meta = &scim.Meta{
		ResourceType: "Group",
		Created:      &now,
		LastModified: &now,
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO groups (id, tenant, display_name, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		group.ID, tenant, group.DisplayName, GroupData{Group: group}, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert group: %w", err)
	}
	return group, nil
}

func (c *Connector) getGroup(ctx context.Context, tenant, id string) (*scim.Group, error) {
	var row groupRow
	err := c.db.GetContext(ctx, &row,
		"SELECT * FROM groups WHERE tenant = $1 AND id = $2", tenant, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, scim.ErrNotFound("Group", id)
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return row.Data.Group, nil
}

func (c *Connector) ModifyGroup(ctx context.Context, tenant, id string, delta scim.Attributes) error {
	group, err := c.getGroup(ctx, tenant, id)
	if err != nil {
		return err
	}

	attrs, err := scim.ToAttributes(group)
	if err != nil {
		return err
	}
	delete(delta, "members")
	scim.ApplyDelta(attrs, delta)

	data, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	updated := &scim.Group{}
	if err := json.Unmarshal(data, updated); err != nil {
		return err
	}
	updated.ID = id
	updated.Members = group.Members

	return c.saveGroup(ctx, tenant, updated)
}

func (c *Connector) ModifyGroupMembers(ctx context.Context, tenant, id string, add, remove []scim.MemberRef) error {
	group, err := c.getGroup(ctx, tenant, id)
	if err != nil {
		return err
	}

	present := make(map[string]bool, len(group.Members))
	for _, m := range group.Members {
		present[m.Value] = true
	}
	for _, m := range add {
		if !present[m.Value] {
			group.Members = append(group.Members, m)
			present[m.Value] = true
		}
	}
	if len(remove) > 0 {
		drop := make(map[string]bool, len(remove))
		for _, m := range remove {
			drop[m.Value] = true
		}
		kept := group.Members[:0]
		for _, m := range group.Members {
			if !drop[m.Value] {
				kept = append(kept, m)
			}
		}
		group.Members = kept
	}

	return c.saveGroup(ctx, tenant, group)
}

func (c *Connector) saveGroup(ctx context.Context, tenant string, group *scim.Group) error {
	now := time.Now().UTC()
	if group.Meta == nil {
		group.Meta = &scim.Meta{ResourceType: "Group"}
	}
	group.Meta.LastModified = &now

	_, err := c.db.ExecContext(ctx,
		`UPDATE groups SET display_name = $1, data = $2, updated_at = $3 WHERE tenant = $4 AND id = $5`,
		group.DisplayName, GroupData{Group: group}, now, tenant, group.ID)
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	return nil
}

func (c *Connector) DeleteGroup(ctx context.Context, tenant, id string) error {
	result, err := c.db.ExecContext(ctx,
		"DELETE FROM groups WHERE tenant = $1 AND id = $2", tenant, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return scim.ErrNotFound("Group", id)
	}
	return nil
}
