// Package rule holds the generators declared by build scripts and the tasks
// they materialise: shell command tasks producing one output each, and
// installer tasks that only act during install and uninstall.
package rule
