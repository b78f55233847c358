package schema

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mssqlsync/syncd/internal/table"
)

func TestColumnDefinitionIdentityNotNull(t *testing.T) {
	c := table.Column{Name: "Id", DataType: "int", IsIdentity: true, Nullable: false}
	assert.Equal(t, "[Id] int IDENTITY(1,1) NOT NULL", columnDefinition(c, false))
}

func TestColumnDefinitionAddingToExistingForcesNull(t *testing.T) {
	c := table.Column{Name: "MiddleName", DataType: "varchar", MaxLength: 50, Nullable: false}
	assert.Equal(t, "[MiddleName] varchar(50) NULL", columnDefinition(c, true))
}

func TestColumnDefinitionWithDefault(t *testing.T) {
	c := table.Column{
		Name: "CreatedAt", DataType: "datetime2", Scale: 7, Nullable: false,
		Default: sql.NullString{String: "(getutcdate())", Valid: true},
	}
	assert.Equal(t, "[CreatedAt] datetime2(7) NOT NULL DEFAULT (getutcdate())", columnDefinition(c, false))
}

func TestTypeWithLengthNvarcharHalvesByteLength(t *testing.T) {
	c := table.Column{DataType: "nvarchar", MaxLength: 100}
	assert.Equal(t, "nvarchar(50)", typeWithLength(c))
}

func TestTypeWithLengthVarcharMax(t *testing.T) {
	c := table.Column{DataType: "varchar", MaxLength: -1}
	assert.Equal(t, "varchar(MAX)", typeWithLength(c))
}

func TestTypeWithLengthDecimal(t *testing.T) {
	c := table.Column{DataType: "decimal", Precision: 18, Scale: 4}
	assert.Equal(t, "decimal(18,4)", typeWithLength(c))
}

func TestTypeWithLengthPlainType(t *testing.T) {
	c := table.Column{DataType: "int"}
	assert.Equal(t, "int", typeWithLength(c))
}

func TestBuildCreateTableIncludesPrimaryKey(t *testing.T) {
	info := &table.Info{
		Schema: "dbo",
		Name:   "Orders",
		Columns: []table.Column{
			{Name: "Id", DataType: "int", IsIdentity: true},
			{Name: "Total", DataType: "decimal", Precision: 18, Scale: 2, Nullable: true},
		},
		KeyColumns: []string{"Id"},
	}
	ddl := buildCreateTable(info)
	assert.Contains(t, ddl, "CREATE TABLE [dbo].[Orders]")
	assert.Contains(t, ddl, "[Id] int IDENTITY(1,1) NOT NULL")
	assert.Contains(t, ddl, "[Total] decimal(18,2) NULL")
	assert.Contains(t, ddl, "PRIMARY KEY ([Id])")
}

func TestTranslateActionNoActionOmitsClause(t *testing.T) {
	assert.Equal(t, "", translateAction("NO_ACTION"))
	assert.Equal(t, "CASCADE", translateAction("CASCADE"))
	assert.Equal(t, "SET NULL", translateAction("SET_NULL"))
}

func TestCreateIndexDDLPlainIndex(t *testing.T) {
	def := indexDef{name: "IX_Orders_Total", columns: []string{"[Total] DESC"}}
	ddl := createIndexDDL("[dbo].[Orders]", def)
	assert.Equal(t, "CREATE INDEX [IX_Orders_Total] ON [dbo].[Orders] ([Total] DESC)", ddl)
}

func TestCreateIndexDDLUniqueConstraint(t *testing.T) {
	def := indexDef{name: "UQ_Orders_Code", isUnique: true, isConstraint: true, columns: []string{"[Code]"}}
	ddl := createIndexDDL("[dbo].[Orders]", def)
	assert.Equal(t, "ALTER TABLE [dbo].[Orders] ADD CONSTRAINT [UQ_Orders_Code] UNIQUE ([Code])", ddl)
}

func TestCreateIndexDDLUniqueIndex(t *testing.T) {
	def := indexDef{name: "UX_Orders_Code", isUnique: true, columns: []string{"[Code]"}}
	ddl := createIndexDDL("[dbo].[Orders]", def)
	assert.Equal(t, "CREATE UNIQUE INDEX [UX_Orders_Code] ON [dbo].[Orders] ([Code])", ddl)
}

func TestCreateForeignKeyDDLWithActions(t *testing.T) {
	def := fkDef{
		name: "FK_Orders_Customers", columns: []string{"[CustomerId]"},
		refTable: "[dbo].[Customers]", refColumns: []string{"[Id]"},
		onDelete: "CASCADE",
	}
	ddl := createForeignKeyDDL("[dbo].[Orders]", def)
	assert.Equal(t, "ALTER TABLE [dbo].[Orders] ADD CONSTRAINT [FK_Orders_Customers] "+
		"FOREIGN KEY ([CustomerId]) REFERENCES [dbo].[Customers] ([Id]) ON DELETE CASCADE", ddl)
}

func TestDropStatementByRoutineType(t *testing.T) {
	assert.Equal(t, "DROP VIEW [dbo].[V1]", dropStatement(routineDef{schema: "dbo", name: "V1", routType: "V"}))
	assert.Equal(t, "DROP PROCEDURE [dbo].[P1]", dropStatement(routineDef{schema: "dbo", name: "P1", routType: "P"}))
	assert.Equal(t, "DROP FUNCTION [dbo].[F1]", dropStatement(routineDef{schema: "dbo", name: "F1", routType: "FN"}))
}
