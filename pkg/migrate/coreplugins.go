package migrate

// coreComponents are components shipped with moodle itself. They appear in
// export manifests but are never downloaded or installed separately.
var coreComponents = map[string]struct{}{}

func init() {
	for _, c := range []string{
		"mod_assign", "mod_bigbluebuttonbn", "mod_book", "mod_chat", "mod_choice",
		"mod_data", "mod_feedback", "mod_folder", "mod_forum", "mod_glossary",
		"mod_h5pactivity", "mod_imscp", "mod_label", "mod_lesson", "mod_lti",
		"mod_page", "mod_quiz", "mod_resource", "mod_scorm", "mod_survey",
		"mod_url", "mod_wiki", "mod_workshop",
		"block_activity_modules", "block_activity_results", "block_admin_bookmarks",
		"block_badges", "block_blog_menu", "block_blog_recent", "block_blog_tags",
		"block_calendar_month", "block_calendar_upcoming", "block_comments",
		"block_completionstatus", "block_course_list", "block_course_summary",
		"block_feedback", "block_globalsearch", "block_glossary_random",
		"block_html", "block_login", "block_lp", "block_mentees", "block_mnet_hosts",
		"block_myoverview", "block_myprofile", "block_navigation", "block_news_items",
		"block_online_users", "block_participants", "block_private_files",
		"block_recent_activity", "block_recentlyaccessedcourses",
		"block_recentlyaccesseditems", "block_rss_client", "block_search_forums",
		"block_section_links", "block_selfcompletion", "block_settings",
		"block_site_main_menu", "block_social_activities", "block_starredcourses",
		"block_tag_flickr", "block_tag_youtube", "block_tags", "block_timeline",
		"theme_boost", "theme_classic",
		"auth_db", "auth_email", "auth_ldap", "auth_lti", "auth_manual",
		"auth_mnet", "auth_nologin", "auth_none", "auth_oauth2", "auth_shibboleth",
		"auth_webservice",
		"enrol_category", "enrol_cohort", "enrol_database", "enrol_fee",
		"enrol_flatfile", "enrol_guest", "enrol_imsenterprise", "enrol_ldap",
		"enrol_lti", "enrol_manual", "enrol_meta", "enrol_mnet", "enrol_paypal",
		"enrol_self",
	} {
		coreComponents[c] = struct{}{}
	}
}

func isCoreComponent(component string) bool {
	_, ok := coreComponents[component]
	return ok
}
