package detection

import "sort"

// AggregateClassFrequency groups rows by class name and counts them.
//
// When classNames is non-empty only rows whose class matches one of them
// exactly are counted. Groups are ordered by count descending; equal counts
// keep the order in which their class first appears in rows. Totals are
// computed before limit is applied; limit <= 0 returns every group.
func AggregateClassFrequency(rows []ClassRow, classNames []string, limit int) ClassFrequencyReport {
	var filter map[string]struct{}
	if len(classNames) > 0 {
		filter = make(map[string]struct{}, len(classNames))
		for _, name := range classNames {
			filter[name] = struct{}{}
		}
	}

	index := make(map[string]int)
	groups := make([]ClassFrequency, 0)
	for _, row := range rows {
		if filter != nil {
			if _, ok := filter[row.ClassName]; !ok {
				continue
			}
		}

		i, ok := index[row.ClassName]
		if !ok {
			i = len(groups)
			index[row.ClassName] = i
			groups = append(groups, ClassFrequency{ClassName: row.ClassName})
		}
		groups[i].Detections++
		if row.CreatedAt.After(groups[i].LastSeen) {
			groups[i].LastSeen = row.CreatedAt
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Detections > groups[j].Detections
	})

	report := ClassFrequencyReport{
		TotalClasses: len(groups),
		Items:        groups,
	}
	for _, g := range groups {
		report.TotalDetections += g.Detections
	}

	if limit > 0 && len(report.Items) > limit {
		report.Items = report.Items[:limit]
	}
	return report
}

// PageCount returns ceil(total/pageSize), or 0 when pageSize is not positive
func PageCount(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
