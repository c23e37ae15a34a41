package schema

// Default returns the built-in content schema used when no sources are
// configured. It mirrors a conventional CMS data model: posts, pages,
// products, taxonomies, media, users, comments, and reviews.
func Default() *Registry {
	contentFields := func(extra ...Field) []Field {
		base := []Field{
			{Name: "id"},
			{Name: "title"},
			{Name: "slug"},
			{Name: "status"},
			{Name: "content"},
			{Name: "excerpt"},
			{Name: "views"},
			{Name: "created_at"},
			{Name: "updated_at"},
			{Name: "published_at"},
			{Name: "author_id"},
		}
		return append(base, extra...)
	}

	reg, err := NewRegistry(
		Source{
			Name:         "post",
			StatusColumn: "status",
			TenantColumn: "tenant_id",
			Fields:       contentFields(Field{Name: "comment_count"}),
			Relations: []Relation{
				{Name: "author", Target: "user", Cardinality: One, LocalColumn: "author_id"},
				{Name: "category", Target: "category", Cardinality: One, LocalColumn: "category_id"},
				{Name: "tags", Target: "tag", Cardinality: Many, JunctionTable: "post_tags", JunctionLocalColumn: "post_id", JunctionRemoteColumn: "tag_id"},
				{Name: "media", Target: "media", Cardinality: Many, RemoteColumn: "post_id"},
				{Name: "comments", Target: "comment", Cardinality: Many, RemoteColumn: "post_id"},
				{Name: "related", Target: "post", Cardinality: Many, JunctionTable: "post_related", JunctionLocalColumn: "post_id", JunctionRemoteColumn: "related_post_id"},
				{Name: "meta", Target: "meta", Cardinality: Many, RemoteColumn: "entity_id"},
			},
		},
		Source{
			Name:         "page",
			StatusColumn: "status",
			TenantColumn: "tenant_id",
			Fields:       contentFields(Field{Name: "parent_id"}, Field{Name: "menu_order"}),
			Relations: []Relation{
				{Name: "author", Target: "user", Cardinality: One, LocalColumn: "author_id"},
				{Name: "parent", Target: "page", Cardinality: One, LocalColumn: "parent_id"},
				{Name: "children", Target: "page", Cardinality: Many, RemoteColumn: "parent_id"},
				{Name: "media", Target: "media", Cardinality: Many, RemoteColumn: "page_id"},
				{Name: "meta", Target: "meta", Cardinality: Many, RemoteColumn: "entity_id"},
			},
		},
		Source{
			Name:         "product",
			Table:        "products",
			StatusColumn: "status",
			TenantColumn: "tenant_id",
			Fields: contentFields(
				Field{Name: "sku"},
				Field{Name: "price"},
				Field{Name: "stock"},
				Field{Name: "cost_price", Sensitive: true},
				Field{Name: "supplier_margin", Sensitive: true},
			),
			Relations: []Relation{
				{Name: "author", Target: "user", Cardinality: One, LocalColumn: "author_id"},
				{Name: "category", Target: "category", Cardinality: One, LocalColumn: "category_id"},
				{Name: "tags", Target: "tag", Cardinality: Many, JunctionTable: "product_tags", JunctionLocalColumn: "product_id", JunctionRemoteColumn: "tag_id"},
				{Name: "media", Target: "media", Cardinality: Many, RemoteColumn: "product_id"},
				{Name: "reviews", Target: "review", Cardinality: Many, RemoteColumn: "product_id"},
				{Name: "related", Target: "product", Cardinality: Many, JunctionTable: "product_related", JunctionLocalColumn: "product_id", JunctionRemoteColumn: "related_product_id"},
			},
		},
		Source{
			Name:  "category",
			Table: "categories",
			Fields: []Field{
				{Name: "id"}, {Name: "name"}, {Name: "slug"},
				{Name: "description"}, {Name: "parent_id"}, {Name: "count"},
			},
			Relations: []Relation{
				{Name: "parent", Target: "category", Cardinality: One, LocalColumn: "parent_id"},
				{Name: "children", Target: "category", Cardinality: Many, RemoteColumn: "parent_id"},
			},
		},
		Source{
			Name: "tag",
			Fields: []Field{
				{Name: "id"}, {Name: "name"}, {Name: "slug"}, {Name: "count"},
			},
		},
		Source{
			Name:  "media",
			Table: "media",
			Fields: []Field{
				{Name: "id"}, {Name: "url"}, {Name: "mime_type"},
				{Name: "title"}, {Name: "alt_text"}, {Name: "width"},
				{Name: "height"}, {Name: "created_at"},
			},
		},
		Source{
			Name: "user",
			Fields: []Field{
				{Name: "id"}, {Name: "display_name"}, {Name: "slug"},
				{Name: "avatar_url"}, {Name: "created_at"},
				{Name: "email", Sensitive: true},
				{Name: "password", Sensitive: true},
				{Name: "password_hash", Sensitive: true},
				{Name: "api_key", Sensitive: true},
				{Name: "session_token", Sensitive: true},
			},
		},
		Source{
			Name:         "comment",
			StatusColumn: "status",
			Fields: []Field{
				{Name: "id"}, {Name: "post_id"}, {Name: "author_id"},
				{Name: "status"}, {Name: "content"}, {Name: "created_at"},
				{Name: "author_ip", Sensitive: true},
				{Name: "author_email", Sensitive: true},
			},
			Relations: []Relation{
				{Name: "author", Target: "user", Cardinality: One, LocalColumn: "author_id"},
				{Name: "parent", Target: "comment", Cardinality: One, LocalColumn: "parent_id"},
				{Name: "children", Target: "comment", Cardinality: Many, RemoteColumn: "parent_id"},
			},
		},
		Source{
			Name:         "review",
			StatusColumn: "status",
			Fields: []Field{
				{Name: "id"}, {Name: "product_id"}, {Name: "author_id"},
				{Name: "status"}, {Name: "rating"}, {Name: "content"},
				{Name: "created_at"},
				{Name: "author_email", Sensitive: true},
			},
			Relations: []Relation{
				{Name: "author", Target: "user", Cardinality: One, LocalColumn: "author_id"},
			},
		},
		Source{
			Name:  "meta",
			Table: "entity_meta",
			Fields: []Field{
				{Name: "id"}, {Name: "entity_id"}, {Name: "key"}, {Name: "value"},
			},
		},
	)
	if err != nil {
		// The built-in schema is static; a construction failure is a bug.
		panic(err)
	}
	return reg
}
